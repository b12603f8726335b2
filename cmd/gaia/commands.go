package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gaia/internal/audit"
	"gaia/internal/slots"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and sync halls.yaml into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			be, err := openBackend(ctx, cfg, &logger)
			if err != nil {
				return err
			}
			defer be.close()

			if err := syncHalls(ctx, cfg, be.store); err != nil {
				return err
			}
			logger.Info().Str("driver", cfg.Database.Driver).Msg("schema up to date, halls synced")
			return nil
		},
	}
}

func newSlotsCmd(configPath *string) *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "slots <hall> <YYYY-MM-DD>",
		Short: "Print the free slots of a hall on a day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			be, err := openBackend(ctx, cfg, &logger)
			if err != nil {
				return err
			}
			defer be.close()
			if cfg.Database.Driver == "memory" {
				if err := syncHalls(ctx, cfg, be.store); err != nil {
					return err
				}
			}

			manager, err := newManager(cfg, be.store, nil, &logger)
			if err != nil {
				return err
			}
			loc := manager.Policy().Location()
			day, err := time.ParseInLocation("2006-01-02", args[1], loc)
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[1], err)
			}
			hall, err := manager.HallBySlug(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showAll {
				all, err := manager.DaySlots(ctx, hall.ID, day)
				if err != nil {
					return err
				}
				for _, s := range slots.ToSlotInfo(all, loc) {
					state := "free"
					if !s.Available {
						state = "busy"
					}
					fmt.Fprintf(out, "%s-%s %s\n", s.Start, s.End, state)
				}
				return nil
			}

			free, err := manager.ListFreeSlots(ctx, hall.ID, day)
			if err != nil {
				return err
			}
			if len(free) == 0 {
				fmt.Fprintln(out, "no free slots")
			}
			for _, iv := range slots.MergeConsecutive(free) {
				fmt.Fprintln(out, iv.In(loc).String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showAll, "all", false, "list every slot with its availability")
	return cmd
}

func newExportCmd(configPath *string) *cobra.Command {
	var (
		outPath string
		cleanup bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the audit workbook to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			be, err := openBackend(ctx, cfg, &logger)
			if err != nil {
				return err
			}
			defer be.close()
			if be.exporter == nil {
				return fmt.Errorf("export is not supported by the %s driver", cfg.Database.Driver)
			}

			policy, err := cfg.Facility.Policy()
			if err != nil {
				return err
			}
			svc := audit.NewService(audit.Config{
				RetentionDays: cfg.Audit.RetentionDays,
				Location:      policy.Location(),
			}, be.exporter, nil, be.cleaner, &logger)

			if outPath == "" {
				outPath = audit.Filename(time.Now().In(policy.Location()))
			}
			if err := writeExport(ctx, svc, outPath); err != nil {
				return err
			}
			logger.Info().Str("file", outPath).Msg("audit exported")

			if cleanup {
				n, err := svc.Cleanup(ctx)
				if err != nil {
					return err
				}
				logger.Info().Int64("anonymized", n).Msg("finished reservations anonymized")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default <Month>_<Year>.xlsx)")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "anonymize finished reservations past audit.retention_days")
	return cmd
}

func writeExport(ctx context.Context, svc *audit.Service, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return svc.Export(ctx, f)
}
