package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/entrascope/entrascope/internal/message"
	"github.com/entrascope/entrascope/pkg/collectors"
	"github.com/entrascope/entrascope/pkg/config"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var collectCmd = &cobra.Command{
	Use:   "collect [collector...]",
	Short: "Run collectors and write one snapshot file per collector",
	Long: `Runs the named collectors (all of them by default) sequentially against
Microsoft Graph and the Defender for Endpoint API, writing one JSON
snapshot per collector into the output directory. A failing collector
never stops its siblings; it writes an empty valid document instead.`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	message.Banner()

	thresholds, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	cred, err := graph.NewAzureCredential()
	if err != nil {
		return err
	}

	retry := graph.RetryPolicy{
		MaxRetries: thresholds.MaxRetries,
		Base:       time.Duration(thresholds.RetryBaseSeconds) * time.Second,
		Strategy:   graph.Exponential,
	}
	graphClient := graph.NewClient(cred, graph.Options{
		Retry:             &retry,
		RequestsPerSecond: thresholds.RequestsPerSecond,
	})
	defenderClient := graph.NewClient(cred, graph.Options{
		BaseURL:           graph.DefenderBaseURL,
		Scope:             graph.DefenderScope,
		Retry:             &retry,
		RequestsPerSecond: thresholds.RequestsPerSecond,
	})

	ctx := context.Background()
	env := &collectors.Env{
		Graph:     graphClient,
		Defender:  defenderClient,
		Cfg:       thresholds,
		OutputDir: viper.GetString("output"),
		RunID:     uuid.NewString(),
	}

	if tenantName, tenantID, err := graph.TenantDetails(ctx, cred); err != nil {
		message.Warning("could not resolve tenant details: %v", err)
	} else {
		env.TenantName = tenantName
		env.TenantID = tenantID
		message.Info("collecting from tenant %s (%s)", message.Emphasize(tenantName), tenantID)
	}

	reports, err := collectors.Run(ctx, env, args)
	if err != nil {
		return err
	}

	message.Section("results")
	failures := 0
	for _, report := range reports {
		if report.Result.Success {
			message.Success("%-18s %6d records  %d warnings", report.Name, report.Result.Count, len(report.Result.Errors))
		} else {
			failures++
			message.Error("%-18s failed", report.Name)
		}
		slog.Debug("collector finished", "name", report.Name,
			"success", report.Result.Success, "count", report.Result.Count)
	}

	if failures == len(reports) && len(reports) > 0 {
		return fmt.Errorf("all %d collectors failed", failures)
	}
	return nil
}
