package commands

import (
	"fmt"
	"path/filepath"

	"github.com/mquinn/gatekeep/internal/config"
	"github.com/mquinn/gatekeep/internal/metrics"
	"github.com/mquinn/gatekeep/internal/rules"
	"github.com/mquinn/gatekeep/internal/session"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, bindings, and recorded activity",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	stateDir := config.StateDir()

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)

	fmt.Fprintln(out, "\nChannels:")
	fmt.Fprintf(out, "  telegram: %s\n", enabledLabel(cfg.Channels.Telegram.Enabled))
	fmt.Fprintf(out, "  slack:    %s\n", enabledLabel(cfg.Channels.Slack.Enabled))

	ruleStore := rules.NewStore(filepath.Join(stateDir, "rules.json"))
	if err := ruleStore.Load(); err != nil {
		return fmt.Errorf("load permission rules: %w", err)
	}
	fmt.Fprintf(out, "\nRules: %d stored\n", len(ruleStore.Rules()))

	bindings := session.NewStore(filepath.Join(stateDir, "bindings.json"))
	if err := bindings.Load(); err != nil {
		return fmt.Errorf("load session bindings: %w", err)
	}
	list := bindings.List()
	fmt.Fprintf(out, "Bindings: %d\n", len(list))
	for _, b := range list {
		fmt.Fprintf(out, "  %s -> %s/%s\n", b.ProjectPath, b.Channel, b.ChatID)
	}

	snap, err := metrics.ReadRuntimeSnapshot(stateDir)
	if err != nil {
		return fmt.Errorf("read runtime metrics: %w", err)
	}
	if !snap.HasData() {
		fmt.Fprintln(out, "\nActivity: none recorded yet")
		return nil
	}

	fmt.Fprintln(out, "\nActivity:")
	fmt.Fprintf(out, "  requests: %d created, %d allowed, %d denied, %d expired, %d auto-allowed\n",
		snap.Requests.Created, snap.Requests.Allowed, snap.Requests.Denied,
		snap.Requests.Expired, snap.Requests.AutoAllowed)
	if snap.Requests.DecidedWithTiming > 0 {
		fmt.Fprintf(out, "  decision latency: avg %.0fms, max %dms, last %dms\n",
			snap.Requests.AvgDecisionMs(), snap.Requests.MaxDecisionMs, snap.Requests.LastDecisionMs)
	}
	fmt.Fprintf(out, "  cards: %d sent, %d failed (%.0f%% failure)\n",
		snap.Cards.SendAttempts, snap.Cards.SendFailures, snap.Cards.FailureRatio()*100)
	fmt.Fprintf(out, "  alerts: %d scheduled, %d fired, %d canceled\n",
		snap.Alerts.Scheduled, snap.Alerts.Fired, snap.Alerts.Canceled)
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "  updated: %s\n", snap.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
