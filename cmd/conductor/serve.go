package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/conductor/internal/agent"
	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/db"
	"github.com/zulandar/conductor/internal/dedup"
	"github.com/zulandar/conductor/internal/ingress"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/orchestrator"
	"github.com/zulandar/conductor/internal/ratelimit"
	"github.com/zulandar/conductor/internal/retry"
	"github.com/zulandar/conductor/internal/router"
	"github.com/zulandar/conductor/internal/store"
	"github.com/zulandar/conductor/internal/tracker"
	"github.com/zulandar/conductor/internal/ttl"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Conductor daemon",
		Long:  "Loads the config, recovers persisted session state, and serves the event ingress until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conductor.yaml", "path to Conductor config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	snapshots, err := store.New(cfg.StateDir)
	if err != nil {
		return err
	}

	rt, err := router.New(cfg.Repositories)
	if err != nil {
		return err
	}

	gh, err := tracker.NewGitHub(tracker.GitHubOpts{
		Owner: cfg.Tracker.Owner,
		Token: cfg.Tracker.Token,
	})
	if err != nil {
		return err
	}
	gateway, err := tracker.NewThrottled(gh,
		ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Burst),
		retry.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay(),
			MaxDelay:     cfg.Retry.MaxDelay(),
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		})
	if err != nil {
		return err
	}

	notifier, err := createNotifier(cfg)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Opts{
		Config:   cfg,
		Dedup:    dedup.New(cfg.Dedup.Window()),
		Router:   rt,
		Store:    snapshots,
		Spawner:  &agent.ClaudeSpawner{Binary: cfg.Agent.Binary, SystemPrompt: cfg.Agent.SystemPrompt, Timeout: cfg.Agent.Timeout()},
		Gateway:  gateway,
		Notifier: notifier,
		DB:       gormDB,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	scheduler := ttl.NewScheduler(cfg.TTL.SweepInterval())
	orch.RegisterSweepers(scheduler)
	go scheduler.Run(ctx)
	go orch.RunIdleMonitor(ctx)
	go orch.RunRetentionLoop(ctx)

	err = ingress.Start(ctx, ingress.StartOpts{
		Orchestrator: orch,
		Port:         cfg.Ingress.Port,
		Out:          out,
	})
	orch.Shutdown()
	return err
}

// createNotifier builds the operator alert channel from the config. An
// empty platform disables alerts.
func createNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Platform {
	case "":
		return notify.Nop{}, nil
	case "slack":
		return notify.NewSlack(notify.SlackOpts{
			BotToken:  cfg.Notify.Slack.BotToken,
			ChannelID: cfg.Notify.Channel,
		})
	case "discord":
		return notify.NewDiscord(notify.DiscordOpts{
			BotToken:  cfg.Notify.Discord.BotToken,
			ChannelID: cfg.Notify.Channel,
		})
	default:
		return nil, fmt.Errorf("notify: unsupported platform %q", cfg.Notify.Platform)
	}
}
