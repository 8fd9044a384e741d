package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/store"
	"github.com/sheetkeeper/sheetkeeper/internal/output"
)

var (
	rateLimitListOutput  string
	rateLimitListOut     string
	rateLimitListOutDir  string
	rateLimitListAll     bool
	rateLimitListLimiter string
	rateLimitListPrefix  string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitListOutput)
		if err != nil {
			return err
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.RateWindowQuery{
			All:     rateLimitListAll,
			Limiter: strings.TrimSpace(rateLimitListLimiter),
			Prefix:  strings.TrimSpace(rateLimitListPrefix),
		}
		if !query.All && query.Limiter == "" && query.Prefix == "" {
			query.All = true
		}

		entries, err := db.ListRateWindows(cmd.Context(), query)
		if err != nil {
			return err
		}

		outPath, err := resolveSinkPath(rateLimitListOut, rateLimitListOutDir, "rate-limit.list", format)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatRateWindows(rateWindows(entries))
		if err != nil {
			return err
		}

		sink, err := openSink(cmd, outPath)
		if err != nil {
			return err
		}
		defer sink.Close() // nolint:errcheck // discards uncommitted output
		if _, err := fmt.Fprintln(sink, rendered); err != nil {
			return err
		}
		return sink.Commit()
	},
}

func rateWindows(entries []store.RateWindowEntry) []core.RateWindow {
	windows := make([]core.RateWindow, 0, len(entries))
	for _, entry := range entries {
		windows = append(windows, core.RateWindow{
			Limiter:    entry.Limiter,
			Key:        entry.Key,
			Timestamps: entry.Timestamps,
			UpdatedAt:  entry.UpdatedAt,
		})
	}
	return windows
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOut, "out", "", "Write output to a file (default stdout)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutDir, "out-dir", "", "Write output to a directory")
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all windows")
	rateLimitListCmd.Flags().StringVar(&rateLimitListLimiter, "limiter", "", "List windows of one limiter (action class)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List windows whose key has this prefix")
}
