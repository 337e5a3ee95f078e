package commands

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mquinn/gatekeep/internal/alert"
	"github.com/mquinn/gatekeep/internal/audit"
	"github.com/mquinn/gatekeep/internal/authorize"
	"github.com/mquinn/gatekeep/internal/bus"
	"github.com/mquinn/gatekeep/internal/channel"
	"github.com/mquinn/gatekeep/internal/channel/slack"
	"github.com/mquinn/gatekeep/internal/channel/telegram"
	"github.com/mquinn/gatekeep/internal/config"
	"github.com/mquinn/gatekeep/internal/gateway"
	"github.com/mquinn/gatekeep/internal/metrics"
	"github.com/mquinn/gatekeep/internal/rules"
	"github.com/mquinn/gatekeep/internal/session"
	"github.com/mquinn/gatekeep/internal/version"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stateDir := config.StateDir()

	ruleStore := rules.NewStore(filepath.Join(stateDir, "rules.json"))
	if err := ruleStore.Load(); err != nil {
		return fmt.Errorf("load permission rules: %w", err)
	}

	bindings := session.NewStore(filepath.Join(stateDir, "bindings.json"))
	if err := bindings.Load(); err != nil {
		return fmt.Errorf("load session bindings: %w", err)
	}

	auditLog := audit.NewWriter(stateDir)
	runtime := metrics.NewRuntimeMetrics(stateDir)

	msgBus := bus.NewMessageBus(100)

	chanMgr := channel.NewManager(msgBus)
	chanMgr.SetRuntimeMetrics(runtime)
	if cfg.Channels.Telegram.Enabled {
		chanMgr.Register(telegram.New(&cfg.Channels.Telegram, msgBus))
	}
	if cfg.Channels.Slack.Enabled {
		chanMgr.Register(slack.New(&cfg.Channels.Slack, msgBus))
	}

	scheduler := alert.NewScheduler(chanMgr.Notify, alert.WorkingHours{
		Enabled:   cfg.Alerts.WorkingHours.Enabled,
		Timezone:  cfg.Alerts.WorkingHours.Timezone,
		Weekdays:  cfg.Alerts.WorkingHours.Weekdays,
		StartHour: cfg.Alerts.WorkingHours.StartHour,
		EndHour:   cfg.Alerts.WorkingHours.EndHour,
	})
	scheduler.OnFired = func(key string, kind alert.Kind) {
		runtime.RecordAlert("fired")
		auditLog.AlertSent(key, string(kind))
	}
	scheduler.OnCanceled = func(key string) {
		runtime.RecordAlert("canceled")
	}

	requests := authorize.NewStore(cfg.Authorization.TTL())
	resolver := authorize.NewResolver(requests, ruleStore, scheduler, auditLog)

	sweeper := authorize.NewSweeper(requests, cfg.Authorization.CleanupInterval())
	sweeper.OnRemoved = func(removed []authorize.Request) {
		expired := 0
		for _, req := range removed {
			if req.Status != authorize.StatusResolved {
				expired++
				auditLog.RequestExpired(req.ID, req.Tool)
			}
		}
		runtime.RecordExpired(expired)
	}
	sweeper.Start()

	svc := gateway.NewService(
		cfg,
		requests,
		ruleStore,
		resolver,
		chanMgr,
		scheduler,
		bindings,
		auditLog,
		runtime,
		msgBus,
	)

	chanMgr.StartAll(ctx)
	go chanMgr.RouteOutbound(ctx)
	go svc.RunActionLoop(ctx)

	server := gateway.New(cfg.Server, svc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("Gatekeep %s listening on %s\n", version.Version, server.Addr())
	fmt.Printf("Channels: %v\n", chanMgr.Names())
	fmt.Printf("Rules loaded: %d\n", len(ruleStore.Rules()))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway server failed: %w", err)
		}
	}

	fmt.Println("\nShutting down...")

	sweeper.Stop()
	scheduler.ClearAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	chanMgr.StopAll(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}

	fmt.Println("Goodbye!")
	return nil
}
