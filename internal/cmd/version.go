package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/output"
	"github.com/sheetkeeper/sheetkeeper/internal/server/handlers"
)

var (
	extended      bool
	versionOutput string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(versionOutput)
		if err != nil {
			return err
		}

		identity := GetAppIdentity()
		out := cmd.OutOrStdout()

		if format == output.FormatJSON {
			handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
			handlers.SetAppIdentity(identity)
			return writeDocument(out, handlers.CurrentVersion(), true)
		}

		_, _ = fmt.Fprintf(out, "%s %s\n", identity.BinaryName, versionInfo.Version)
		if !extended {
			return nil
		}

		_, _ = fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(out, "Go: %s\n\n", runtime.Version())

		version := crucible.GetVersion()
		_, _ = fmt.Fprintf(out, "Gofulmen: %s\n", version.Gofulmen)
		_, _ = fmt.Fprintf(out, "Crucible: %s\n", version.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	versionCmd.Flags().StringVar(&versionOutput, "output-format", string(output.FormatTable), "Output format: table|json")
}
