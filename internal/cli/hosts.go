package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHostsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List the hosts an inventory resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, hosts, err := a.inventory(a.v.GetString("group"))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, a.formatter(out).Hosts(hosts))
			return nil
		},
	}
	cmd.Flags().StringP("group", "g", "all", "group name or glob")
	return cmd
}
