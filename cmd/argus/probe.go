package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/config"
	"github.com/Ramsey-B/argus/internal/repositories/record"
	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/events"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newProbeCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report which optional columns exist and whether JSON queries work",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			logger, flush, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer flush()

			report, err := probe(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

func probe(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (capability.Report, error) {
	db, err := database.Open(ctx, databaseConfig(cfg), logger)
	if err != nil {
		return capability.Report{}, err
	}
	defer db.Close()

	svc := newServices(cfg, db, record.NopGuard{}, events.Nop{}, logger)
	if err := svc.warm(ctx); err != nil {
		return capability.Report{}, err
	}
	return svc.probe.Report(), nil
}

func writeReport(w io.Writer, report capability.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
