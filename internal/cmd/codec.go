package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
	"github.com/sheetkeeper/sheetkeeper/internal/output"
)

var (
	codecInput       string
	codecInputFormat string
	codecOut         string
	codecPretty      bool
	splitMaxBytes    int
	splitOutput      string
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact a state tree into its stored form",
	Long: `Compact reads a state tree (JSON or YAML) and writes the compacted
payload. Input that is not a state tree, including an already compacted
payload, is written back unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocument(codecInput, codecInputFormat, cmd.InOrStdin())
		if err != nil {
			return err
		}

		result := compact.New(observability.CLILogger).Compact(doc)
		if payload, ok := result.(*compact.Payload); ok {
			observability.CLILogger.Info("Compacted state",
				zap.Int("original_size", payload.OriginalSize),
				zap.Int("compacted_size", payload.CompactedSize),
				zap.Float64("compaction_ratio", payload.CompactionRatio),
				zap.Int("entities", len(payload.Entities)))
		} else {
			observability.CLILogger.Warn("Input is not a state tree; writing it unchanged",
				zap.String("kind", compact.Classify(doc).String()))
		}

		return writeCodecResult(cmd, result)
	},
}

var expandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Expand a compacted payload back into a state tree",
	Long: `Expand restores omitted fields from defaults. Fields dropped during
compaction that have no default are not recovered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocument(codecInput, codecInputFormat, cmd.InOrStdin())
		if err != nil {
			return err
		}

		if !compact.IsCompacted(doc) {
			observability.CLILogger.Warn("Input is not a compacted payload; writing it unchanged")
		}
		return writeCodecResult(cmd, compact.New(observability.CLILogger).Expand(doc))
	},
}

var splitCheckCmd = &cobra.Command{
	Use:   "split-check",
	Short: "Report whether a payload must be split before storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(splitOutput)
		if err != nil {
			return err
		}

		doc, err := readDocument(codecInput, codecInputFormat, cmd.InOrStdin())
		if err != nil {
			return err
		}

		maxBytes := splitMaxBytes
		if maxBytes <= 0 {
			maxBytes = configuredMaxPayloadBytes(cmd)
		}

		advice, err := compact.ShouldSplit(doc, maxBytes)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatSplitAdvice(advice, maxBytes)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

func writeCodecResult(cmd *cobra.Command, result any) error {
	sink, err := openSink(cmd, codecOut)
	if err != nil {
		return err
	}
	defer sink.Close() // nolint:errcheck // discards uncommitted output
	if err := writeDocument(sink, result, codecPretty); err != nil {
		return err
	}
	return sink.Commit()
}

// configuredMaxPayloadBytes reads sync.max_payload_bytes, falling back to
// the codec default when config cannot be loaded.
func configuredMaxPayloadBytes(cmd *cobra.Command) int {
	cfg, err := config.Load(cmd.Context())
	if err != nil || cfg.Sync.MaxPayloadBytes <= 0 {
		if err != nil {
			observability.CLILogger.Debug("Using default payload limit", zap.Error(err))
		}
		return compact.DefaultMaxSizeBytes
	}
	return cfg.Sync.MaxPayloadBytes
}

func addCodecInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&codecInput, "in", "i", "-", "Input file (default stdin)")
	cmd.Flags().StringVar(&codecInputFormat, "input-format", inputFormatAuto, "Input format: auto|json|yaml")
}

func init() {
	for _, c := range []*cobra.Command{compactCmd, expandCmd} {
		addCodecInputFlags(c)
		c.Flags().StringVar(&codecOut, "out", "", "Write output to a file (default stdout)")
		c.Flags().BoolVar(&codecPretty, "pretty", false, "Indent JSON output")
		rootCmd.AddCommand(c)
	}

	addCodecInputFlags(splitCheckCmd)
	splitCheckCmd.Flags().IntVar(&splitMaxBytes, "max-bytes", 0, "Largest single part in bytes (default sync.max_payload_bytes)")
	splitCheckCmd.Flags().StringVar(&splitOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	rootCmd.AddCommand(splitCheckCmd)
}
