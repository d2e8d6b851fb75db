package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fspy-go/driver"
)

var psCmd = &cobra.Command{
	Use:     "ps",
	Aliases: []string{"list"},
	Short:   "List live trace sessions",
	Long:    `List trace sessions currently being observed by this host.`,
	Args:    cobra.NoArgs,
	RunE:    runPs,
}

var (
	psQuiet  bool
	psFormat string
)

func init() {
	rootCmd.AddCommand(psCmd)

	psCmd.Flags().BoolVarP(&psQuiet, "quiet", "q", false, "display only session IDs")
	psCmd.Flags().StringVarP(&psFormat, "format", "f", "table", "output format (table, json)")
}

func runPs(cmd *cobra.Command, args []string) error {
	sessions, err := driver.ListSessions()
	if err != nil {
		return err
	}

	if psQuiet {
		for _, s := range sessions {
			fmt.Println(s.SessionID)
		}
		return nil
	}

	if psFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(sessions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPID\tCOMMAND\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			s.SessionID, s.Pid, strings.Join(s.Command, " "), s.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
