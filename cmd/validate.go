package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/observability"
)

func newValidateCmd() *cobra.Command {
	var tags []string

	validateCmd := &cobra.Command{
		Use:   "validate [scenario files or directories...]",
		Short: "Parses scenarios and prints the plan without launching a browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			scns, err := loadScenarios(cfg, observability.GetLogger(), args, tags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, scn := range scns {
				printPlan(out, scn)
			}
			fmt.Fprintf(out, "%d scenario(s) valid\n", len(scns))
			return nil
		},
	}
	validateCmd.Flags().StringSliceVar(&tags, "tag", nil, "only validate scenarios carrying one of these tags")
	return validateCmd
}

func printPlan(w io.Writer, scn *schemas.Scenario) {
	c := scn.Config
	fmt.Fprintf(w, "%s", scn.Name)
	if scn.Source != "" {
		fmt.Fprintf(w, " (%s)", scn.Source)
	}
	fmt.Fprintln(w)
	if scn.Description != "" {
		fmt.Fprintf(w, "  %s\n", scn.Description)
	}
	fmt.Fprintf(w, "  target %s, wait until %s within %s, settle %s\n",
		c.TargetURL, c.WaitUntil, formatTimeout(c.NavigationTimeout), formatTimeout(c.SettleDelay))
	for i, step := range scn.Steps {
		fmt.Fprintf(w, "  %2d. %s\n", i+1, step)
	}
	for _, a := range scn.Assertions {
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = c.AssertionTimeout
		}
		fmt.Fprintf(w, "   -> %s within %s\n", a, formatTimeout(timeout))
	}
}

// formatTimeout renders zero durations as "none".
func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.String()
}
