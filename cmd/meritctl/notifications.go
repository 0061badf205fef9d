package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newNotificationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Fetch or follow point-system notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := a.client.ListNotifications(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Printf("[%s] %s: %s\n", r.Status, r.Title, r.Message)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "listen",
		Short: "Stream live notifications until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Watch(cmd.Context()); err != nil {
				a.logger.Warn("token watch unavailable", "error", err)
			}

			if err := a.notify.Connect(); err != nil {
				return err
			}
			defer a.notify.Close()

			fmt.Println("Listening for notifications (Ctrl-C to stop)...")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()

			printed := make(map[string]bool)
			for {
				select {
				case <-sig:
					return nil
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					items := a.notify.Notifications()
					for i := len(items) - 1; i >= 0; i-- {
						n := items[i]
						if printed[n.ID] {
							continue
						}
						printed[n.ID] = true
						fmt.Printf("[%s] %s: %s (unread: %d)\n", n.Kind, n.Title, n.Message, a.notify.UnreadCount())
					}
				}
			}
		},
	})

	return cmd
}
