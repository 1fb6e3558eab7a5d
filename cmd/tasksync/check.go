package main

import (
	"context"
	"fmt"
	"time"

	"tasksync/internal/models"
	"tasksync/internal/storage"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("42"))
	missStyle   = cellStyle.Foreground(lipgloss.Color("203"))
)

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe optional features and report sync readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			snap := a.detector.Detect(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderFeatures(snap))
			fmt.Fprintf(out, "Mode: %s  Sync: %s\n", a.cfg.Sync.Mode, a.coordinator.Status(ctx))
			fmt.Fprintf(out, "Storage: %s\n", storageState(a.cfg.Storage.Driver, a.storage))

			stats, err := a.coordinator.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderStats(stats))
			return nil
		},
	}
}

func renderFeatures(snap models.FeatureSnapshot) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("FEATURE", "AVAILABLE").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1 && row >= 0 && row < len(models.Features):
				if snap.Has(models.Features[row]) {
					return okStyle
				}
				return missStyle
			default:
				return cellStyle
			}
		})
	for _, f := range models.Features {
		t.Row(string(f), yesNo(snap.Has(f)))
	}
	return t.Render()
}

func renderStats(stats map[string]models.SyncStats) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STORE", "PENDING", "COMPLETED", "FAILED").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, name := range []string{"database", "file"} {
		s, ok := stats[name]
		if !ok {
			continue
		}
		t.Row(name,
			fmt.Sprint(s[models.SyncPending]),
			fmt.Sprint(s[models.SyncCompleted]),
			fmt.Sprint(s[models.SyncFailed]))
	}
	return t.Render()
}

// storageState names the configured driver and flags a failover serving from memory.
func storageState(name string, d storage.Driver) string {
	if fd, ok := d.(*storage.FailoverDriver); ok && fd.Degraded() {
		return name + " (degraded, using memory)"
	}
	return name
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
