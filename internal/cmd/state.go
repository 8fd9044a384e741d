package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/observability"
	"github.com/sheetkeeper/sheetkeeper/internal/output"
)

var (
	statePushOutput string
	statePullOut    string
	statePullPretty bool
	stateDeleteYes  bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Push, pull and delete stored character state",
}

var statePushCmd = &cobra.Command{
	Use:   "push <owner>",
	Short: "Compact and store a state tree for owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(statePushOutput)
		if err != nil {
			return err
		}

		doc, err := readDocument(codecInput, codecInputFormat, cmd.InOrStdin())
		if err != nil {
			return err
		}

		svc, err := loadServices(cmd.Context(), observability.CLILogger)
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		report, err := svc.syncer.Push(cmd.Context(), args[0], doc)
		if err != nil {
			return err
		}
		if report.Split {
			observability.CLILogger.Info("State stored across multiple parts",
				zap.String("owner", report.Owner),
				zap.Int("parts", report.Parts))
		}

		rendered, err := output.NewFormatter(format).FormatPushReport(report)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

var statePullCmd = &cobra.Command{
	Use:   "pull <owner>",
	Short: "Load and expand the stored state tree for owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadServices(cmd.Context(), observability.CLILogger)
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		state, err := svc.syncer.Pull(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		sink, err := openSink(cmd, statePullOut)
		if err != nil {
			return err
		}
		defer sink.Close() // nolint:errcheck // discards uncommitted output
		if err := writeDocument(sink, state, statePullPretty); err != nil {
			return err
		}
		return sink.Commit()
	},
}

var stateDeleteCmd = &cobra.Command{
	Use:   "delete <owner>",
	Short: "Delete the stored state for owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner := strings.TrimSpace(args[0])
		if !stateDeleteYes {
			return fmt.Errorf("deleting state for %q requires --yes", owner)
		}

		svc, err := loadServices(cmd.Context(), observability.CLILogger)
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		if err := svc.store.DeleteState(cmd.Context(), owner); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted state for %s\n", owner)
		return err
	},
}

func init() {
	addCodecInputFlags(statePushCmd)
	statePushCmd.Flags().StringVar(&statePushOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")

	statePullCmd.Flags().StringVar(&statePullOut, "out", "", "Write output to a file (default stdout)")
	statePullCmd.Flags().BoolVar(&statePullPretty, "pretty", false, "Indent JSON output")

	stateDeleteCmd.Flags().BoolVar(&stateDeleteYes, "yes", false, "Confirm deletion")

	stateCmd.AddCommand(statePushCmd, statePullCmd, stateDeleteCmd)
	rootCmd.AddCommand(stateCmd)
}
