package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/auth"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/config"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/reviews"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRefreshAllCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh-all",
		Short: "Republish reviews for every cataloged GTIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, services, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()    //nolint:errcheck
			defer services.Close() //nolint:errcheck

			refresher, err := reviews.NewRefresher(reviews.RefresherConfig{
				Catalog:   services.resolver,
				Publisher: services.publisher,
				ItemDelay: appConfig.RefreshItemDelay,
				Force:     force,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			report, err := refresher.RefreshAll(cmd.Context())
			renderRefreshReport(cmd.OutOrStdout(), report)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the raw snapshot freshness window")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-product review statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, services, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()    //nolint:errcheck
			defer services.Close() //nolint:errcheck

			maintenance, err := reviews.NewMaintenance(reviews.MaintenanceConfig{Database: services.db, Logger: logger})
			if err != nil {
				return err
			}
			stats, err := maintenance.Stats(cmd.Context())
			if err != nil {
				return err
			}
			renderStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func newCleanCommand() *cobra.Command {
	var maxAgeDays int
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete stale unapproved anonymous reviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, services, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()    //nolint:errcheck
			defer services.Close() //nolint:errcheck

			if !cmd.Flags().Changed("max-age-days") {
				maxAgeDays = appConfig.CleanMaxAgeDays
			}
			maintenance, err := reviews.NewMaintenance(reviews.MaintenanceConfig{Database: services.db, Logger: logger})
			if err != nil {
				return err
			}
			deleted, err := maintenance.Clean(cmd.Context(), maxAgeDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d reviews older than %d days\n", deleted, maxAgeDays)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Minimum age in days of reviews to delete (defaults to clean.max_age_days)")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue an operator token for the admin endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if !appConfig.AdminEnabled() {
				return fmt.Errorf("admin.signing_secret is not configured")
			}
			tokens, err := auth.NewOperatorTokens(auth.OperatorTokenConfig{
				SigningSecret: []byte(appConfig.AdminSigningSecret),
				TokenTTL:      appConfig.AdminTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := tokens.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Subject recorded in the token")
	return cmd
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoWrap: tw.WrapNone,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoFormat: tw.On,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{
					ShowHeader: tw.Off,
				},
			},
		}),
	)
}

func renderStats(w io.Writer, stats []reviews.ProductStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "no reviews stored")
		return
	}
	rows := make([][]string, 0, len(stats))
	for _, stat := range stats {
		rows = append(rows, []string{
			stat.ProductID,
			stat.GTIN,
			strconv.FormatInt(stat.ReviewCount, 10),
			strconv.FormatFloat(stat.AverageRating, 'f', 2, 64),
			strconv.FormatInt(stat.VerifiedCount, 10),
			strconv.FormatInt(stat.HelpfulTotal, 10),
		})
	}
	table := newTable(w)
	table.Header([]string{"product", "gtin", "reviews", "average", "verified", "helpful"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func renderRefreshReport(w io.Writer, report reviews.RefreshReport) {
	table := newTable(w)
	table.Header([]string{"processed", "inserted", "updated", "failed"})
	_ = table.Bulk([][]string{{
		strconv.Itoa(report.Processed),
		strconv.Itoa(report.Inserted),
		strconv.Itoa(report.Updated),
		strconv.Itoa(report.Failed),
	}})
	_ = table.Render()
}
