package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/driver"
	"github.com/agenthands/tsgcopilot/internal/incident"
)

var inc struct {
	id, title, summary, monitor string
	start, end                  string
}

var incidentCmd = &cobra.Command{
	Use:   "incident",
	Short: "Record an incident so conversations can start from its id",
	RunE:  runIncident,
}

func init() {
	incidentCmd.Flags().StringVar(&inc.id, "id", "", "Incident id")
	incidentCmd.Flags().StringVar(&inc.title, "title", "", "Incident title")
	incidentCmd.Flags().StringVar(&inc.summary, "summary", "", "Incident summary")
	incidentCmd.Flags().StringVar(&inc.monitor, "monitor", "", "Monitor id of the guide to start from")
	incidentCmd.Flags().StringVar(&inc.start, "start", "", "Start time, RFC3339 (default: now)")
	incidentCmd.Flags().StringVar(&inc.end, "end", "", "End time, RFC3339")
	_ = incidentCmd.MarkFlagRequired("id")
	_ = incidentCmd.MarkFlagRequired("monitor")
	rootCmd.AddCommand(incidentCmd)
}

func runIncident(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	record := &model.Incident{
		ID:        inc.id,
		Title:     inc.title,
		Summary:   inc.summary,
		MonitorID: inc.monitor,
		Start:     time.Now().UTC(),
	}
	if inc.start != "" {
		if record.Start, err = time.Parse(time.RFC3339, inc.start); err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
	}
	if inc.end != "" {
		if record.End, err = time.Parse(time.RFC3339, inc.end); err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
	}

	d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger.Named("memgraph"))
	if err != nil {
		return fmt.Errorf("failed to connect to Memgraph: %w", err)
	}
	defer d.Close(ctx)

	if err := incident.NewGraphLookup(d).Save(ctx, record); err != nil {
		return err
	}
	logger.Info("incident saved", zap.String("id", record.ID), zap.String("monitor", record.MonitorID))
	return nil
}
