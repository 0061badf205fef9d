package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meritdesk/meritdesk-go/internal/apiclient"
	"github.com/meritdesk/meritdesk-go/internal/config"
	"github.com/meritdesk/meritdesk-go/internal/convo"
	"github.com/meritdesk/meritdesk-go/internal/logger"
	"github.com/meritdesk/meritdesk-go/internal/notify"
	"github.com/meritdesk/meritdesk-go/internal/token"
)

// app bundles the wired session layer shared by every command.
type app struct {
	cfg    *config.Config
	logger *logger.Logger
	store  *token.Store
	client *apiclient.Client
	notify *notify.Manager
	convo  *convo.Manager
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "meritctl",
		Short:         "MeritDesk points dashboard from the terminal",
		Long:          "meritctl talks to the MeritDesk merit/demerit points API: log in, check balances, browse entries, and follow the notification and conversation channels live.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	v := viper.New()
	v.SetEnvPrefix("MERITDESK")
	v.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("api-url", "", "API base URL (env MERITDESK_API_BASE_URL)")
	flags.String("ws-url", "", "WebSocket base URL (env MERITDESK_WS_BASE_URL)")
	flags.String("token-path", "", "token file path (env MERITDESK_TOKEN_PATH)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	v.BindPFlag("config", flags.Lookup("config"))
	v.BindPFlag("api_base_url", flags.Lookup("api-url"))
	v.BindPFlag("ws_base_url", flags.Lookup("ws-url"))
	v.BindPFlag("token_path", flags.Lookup("token-path"))
	v.BindPFlag("log_level", flags.Lookup("log-level"))

	// Wiring happens after flag parsing so flag overrides land.
	a := &app{}
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		built, err := wireApp(v)
		if err != nil {
			return err
		}
		*a = *built
		return nil
	}

	rootCmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newBalanceCmd(a),
		newEntriesCmd(a),
		newNotificationsCmd(a),
		newChatCmd(a),
	)

	return rootCmd
}

// wireApp builds config, logger, token store, HTTP client, and the two
// socket managers. MERITDESK_* environment variables, a config file, and
// flags overlay the defaults, in that order.
func wireApp(v *viper.Viper) (*app, error) {
	cfg := config.Load()
	if path := v.GetString("config"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		err = config.LoadConfigFile(f, cfg)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if s := v.GetString("api_base_url"); s != "" {
		cfg.APIBaseURL = s
	}
	if s := v.GetString("ws_base_url"); s != "" {
		cfg.WSBaseURL = s
	}
	if s := v.GetString("token_path"); s != "" {
		cfg.TokenPath = s
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	store, err := token.NewStore(cfg.TokenPath, log)
	if err != nil {
		return nil, fmt.Errorf("wire token store: %w", err)
	}

	client := apiclient.New(cfg.APIBaseURL, store, log, apiclient.Options{
		HTTPTimeout:         cfg.HTTPTimeout,
		SessionExpiredDelay: cfg.SessionExpiredDelay,
		OnSessionExpired: func() {
			fmt.Fprintln(os.Stderr, "Session expired. Run `meritctl login` to sign in again.")
		},
	})

	notifyMgr := notify.NewManager(cfg.WSBaseURL, store, log, cfg.NotificationCap)
	convoMgr := convo.NewManager(cfg.WSBaseURL, store, log, cfg.ConvoReconnectDelay)

	// Another process logging out or in invalidates our sockets.
	store.OnExternalChange(func(old, updated string) {
		notifyMgr.HandleTokenChange(old, updated)
		if updated == "" {
			convoMgr.Close()
		}
	})

	return &app{
		cfg:    cfg,
		logger: log,
		store:  store,
		client: client,
		notify: notifyMgr,
		convo:  convoMgr,
	}, nil
}
