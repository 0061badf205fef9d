package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meritdesk/meritdesk-go/internal/socket"
)

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Follow and send ticket conversation messages",
	}

	cmd.AddCommand(newChatListenCmd(a), newChatSendCmd(a), newChatWatchCmd(a))
	return cmd
}

// chat listen follows the user-wide conversation channel through the
// global manager.
func newChatListenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Stream all conversation activity for this account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.convo.Connect(); err != nil {
				return err
			}
			defer a.convo.Close()

			subID := a.convo.Subscribe(func(frame json.RawMessage) {
				fmt.Printf("%s\n", frame)
			})
			defer a.convo.Unsubscribe(subID)

			fmt.Println("Listening for conversation activity (Ctrl-C to stop)...")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sig:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
}

// chat send publishes one message on the user-wide channel.
func newChatSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <message>",
		Short: "Send a message to a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.convo.Connect(); err != nil {
				return err
			}
			defer a.convo.Close()

			// The channel needs a moment to come up; there is no queueing
			// at this layer.
			deadline := time.Now().Add(5 * time.Second)
			for !a.convo.Ready() && time.Now().Before(deadline) {
				time.Sleep(100 * time.Millisecond)
			}

			ok := a.convo.SendPayload(map[string]interface{}{
				"type":            "message",
				"conversation_id": args[0],
				"message":         args[1],
			})
			if !ok {
				return fmt.Errorf("conversation socket not ready, message not sent")
			}

			fmt.Println("Sent.")
			return nil
		},
	}
}

// chat watch opens a dedicated per-conversation socket using the generic
// client: queued sends, heartbeat, jittered reconnect.
func newChatWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <conversation-id>",
		Short: "Follow one conversation on a dedicated connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := a.cfg.WSBaseURL + "/ws/conversations/" + args[0] + "/"

			client := socket.NewClient(endpoint, a.store.Access, socket.Handlers{
				OnConnectionConfirmed: func(raw json.RawMessage) {
					fmt.Println("Connected to conversation", args[0])
				},
				OnConversationMessage: func(raw json.RawMessage) {
					fmt.Printf("%s\n", raw)
				},
				OnMessageConfirmation: func(raw json.RawMessage) {
					fmt.Println("(delivered)")
				},
				OnUnknown: func(frameType string, raw json.RawMessage) {
					a.logger.Debug("unhandled frame", "type", frameType)
				},
			}, a.logger, socket.Options{
				HeartbeatInterval: a.cfg.HeartbeatInterval,
				QueueCap:          a.cfg.OutboundQueueCap,
			})

			client.Connect()
			defer client.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sig:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
}
