package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

var rateLimitCheckKey string

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and manage rate limit windows",
	Long: `Inspect and manage rate limit windows.

list and reset operate on windows persisted in the store, which is only
populated when rate_limit_store is "store".`,
}

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status <class>",
	Short: "Show the configured limit and remaining calls for a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		class, ok := core.ParseActionClass(strings.TrimSpace(args[0]))
		if !ok {
			return fmt.Errorf("unknown action class %q", args[0])
		}
		key := strings.TrimSpace(rateLimitCheckKey)
		if key == "" {
			return fmt.Errorf("--key is required")
		}

		svc, err := loadServices(cmd.Context(), observability.CLILogger)
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		limiter := svc.limiters.For(class)
		remaining := svc.gate.Remaining(cmd.Context(), class, key)

		windows := "store"
		if !strings.EqualFold(svc.cfg.RateLimitStore, config.RateLimitStoreDB) {
			windows = "memory (process-local)"
		}
		lines := []string{
			fmt.Sprintf("Class:     %s", class),
			fmt.Sprintf("Key:       %s", key),
			fmt.Sprintf("Remaining: %d/%d", remaining, limiter.Limit.MaxCalls),
			fmt.Sprintf("Window:    %s", limiter.Limit.Window),
			fmt.Sprintf("Windows:   %s", windows),
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return err
	},
}

func init() {
	rateLimitStatusCmd.Flags().StringVar(&rateLimitCheckKey, "key", "", "Window key (user or session identifier)")

	rateLimitCmd.AddCommand(rateLimitStatusCmd)
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
