package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/core/store"
	"github.com/sheetkeeper/sheetkeeper/internal/output"
)

var (
	rateLimitResetAll     bool
	rateLimitResetLimiter string
	rateLimitResetKey     string
	rateLimitResetPrefix  string
	rateLimitResetYes     bool
	rateLimitResetDryRun  bool
	rateLimitResetOutput  string
	rateLimitResetOut     string
	rateLimitResetOutDir  string
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitResetOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := store.RateWindowQuery{
			All:     rateLimitResetAll,
			Limiter: strings.TrimSpace(rateLimitResetLimiter),
			Key:     strings.TrimSpace(rateLimitResetKey),
			Prefix:  strings.TrimSpace(rateLimitResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}

		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
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

		matched, err := db.CountRateWindows(cmd.Context(), query)
		if err != nil {
			return err
		}

		outPath, err := resolveSinkPath(rateLimitResetOut, rateLimitResetOutDir, "rate-limit.reset", format)
		if err != nil {
			return err
		}
		sink, err := openSink(cmd, outPath)
		if err != nil {
			return err
		}
		defer sink.Close() // nolint:errcheck // discards uncommitted output

		var deleted int64
		if !rateLimitResetDryRun {
			deleted, err = db.ResetRateWindows(cmd.Context(), query)
			if err != nil {
				return err
			}
		}

		if err := writeRateLimitResetResult(format, sink, matched, deleted, rateLimitResetDryRun); err != nil {
			return err
		}
		return sink.Commit()
	},
}

func writeRateLimitResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d rate window(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d rate window(s)\n", deleted, matched)
	return err
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset all windows")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetLimiter, "limiter", "", "Reset windows of one limiter (action class)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetKey, "key", "", "Reset windows for one key (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset windows whose key has this prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOut, "out", "", "Write output to a file (default stdout)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOutDir, "out-dir", "", "Write output to a directory")
}
