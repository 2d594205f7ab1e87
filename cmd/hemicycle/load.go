package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hemicycle.org/internal/config"
	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/refresh"
)

type loadReport struct {
	Generation string         `json:"generation"`
	BuiltAt    string         `json:"built_at"`
	Counts     map[string]int `json:"counts"`
	DurationMS int64          `json:"duration_ms"`
}

func loadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Ingest the archives once and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			commonRun(cfg)

			store := dataset.NewStore()
			scheduler := refresh.New(store, newFetcher(cfg), cfg.Sources())
			if err := scheduler.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("load: %w", err)
			}
			st := scheduler.Status()
			d := store.Current()
			report := loadReport{
				Generation: d.ID(),
				BuiltAt:    d.BuiltAt().UTC().Format(time.RFC3339),
				Counts:     d.Stats().Map(),
				DurationMS: st.LastSuccess.Sub(st.LastAttempt).Milliseconds(),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
