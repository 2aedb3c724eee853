package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/ltchat/internal/app"
	"github.com/vovakirdan/ltchat/internal/auth"
	"github.com/vovakirdan/ltchat/internal/config"
	logpkg "github.com/vovakirdan/ltchat/internal/log"
	"github.com/vovakirdan/ltchat/internal/store/sqlite"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:          "ltchat",
		Short:        "Real-time channel message relay",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "sqlite database path")

	root.AddCommand(
		newServeCmd(&g),
		newWorkerCmd(&g),
		newTokenCmd(&g),
		newMemberCmd(&g),
	)
	return root
}

// loadConfig resolves configuration and applies command-line overrides on top.
func loadConfig(g *globalFlags, overrides config.Config) (*config.Config, *zerolog.Logger, error) {
	boot := logpkg.New("info", "console")

	cfg, path, err := config.Load(boot, g.configPath)
	if err != nil {
		return nil, nil, err
	}
	overrides.LogLevel = g.logLevel
	overrides.DatabasePath = g.dbPath
	cfg.UpdateFrom(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid flags: %w", err)
	}

	logger := logpkg.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return &cfg, logger, nil
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		overrides config.Config
		noWorker  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway",
		Long: `Run the websocket gateway and the presence REST API.

Unless --no-worker is given or embed_worker is false, a persistence
worker consuming every partition runs in the same process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(g, overrides)
			if err != nil {
				return err
			}
			if noWorker {
				cfg.EmbedWorker = false
			}

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			logger.Info().
				Str("addr", cfg.Addr).
				Bool("embedded_worker", cfg.EmbedWorker).
				Msg("starting ltchat gateway")
			if err := application.Run(cmd.Context()); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&overrides.Backplane, "backplane", "", "backplane driver (redis, nats, memory)")
	cmd.Flags().StringVar(&overrides.Queue, "queue", "", "ingest queue driver (jetstream, memory)")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not run the embedded persistence worker")
	return cmd
}

func newWorkerCmd(g *globalFlags) *cobra.Command {
	var overrides config.Config

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone persistence worker",
		Example: `  # consume every partition
  ltchat worker

  # split partitions across two workers
  ltchat worker --partitions 0,1,2,3,4 --addr :9101
  ltchat worker --partitions 5,6,7,8,9 --addr :9102`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(g, overrides)
			if err != nil {
				return err
			}

			application, err := app.NewWorker(cfg, logger)
			if err != nil {
				return fmt.Errorf("init worker: %w", err)
			}

			logger.Info().Ints("partitions", cfg.WorkerPartitions).Msg("starting ltchat worker")
			if err := application.Run(cmd.Context()); err != nil {
				return fmt.Errorf("worker exited: %w", err)
			}
			logger.Info().Msg("worker stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "listen address for /health and /metrics")
	cmd.Flags().StringVar(&overrides.Backplane, "backplane", "", "backplane driver (redis, nats, memory)")
	cmd.Flags().StringVar(&overrides.Queue, "queue", "", "ingest queue driver (jetstream, memory)")
	cmd.Flags().IntSliceVar(&overrides.WorkerPartitions, "partitions", nil, "partitions to consume (default all)")
	return cmd
}

func newTokenCmd(g *globalFlags) *cobra.Command {
	var (
		userID   int64
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return errors.New("--user-id must be positive")
			}
			cfg, _, err := loadConfig(g, config.Config{})
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.JWTTTL
			}

			token, err := auth.GenerateToken(&auth.JWTConfig{
				Secret:   []byte(cfg.JWTSecret),
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				TTL:      ttl,
			}, userID, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id carried by the token")
	cmd.Flags().StringVar(&username, "username", "", "display name carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default jwt_ttl)")
	return cmd
}

func newMemberCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage channel membership used when membership_check is on",
	}
	cmd.AddCommand(
		newMemberChangeCmd(g, "add", "Grant a user access to a channel", true),
		newMemberChangeCmd(g, "remove", "Revoke a user's access to a channel", false),
	)
	return cmd
}

func newMemberChangeCmd(g *globalFlags, use, short string, add bool) *cobra.Command {
	var userID, channelID int64

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 || channelID <= 0 {
				return errors.New("--user-id and --channel-id must be positive")
			}
			cfg, logger, err := loadConfig(g, config.Config{})
			if err != nil {
				return err
			}

			st, err := sqlite.New(cmd.Context(), cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if add {
				err = st.AddMember(cmd.Context(), userID, channelID)
			} else {
				err = st.RemoveMember(cmd.Context(), userID, channelID)
			}
			if err != nil {
				return err
			}
			logger.Info().Int64("user_id", userID).Int64("channel_id", channelID).Str("action", use).Msg("membership updated")
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id")
	cmd.Flags().Int64Var(&channelID, "channel-id", 0, "channel id")
	return cmd
}
