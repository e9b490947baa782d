package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProvidersCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List supported providers in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			router, err := a.router()
			if err != nil {
				return err
			}
			routes := router.Routes()

			if asJSON {
				type entry struct {
					Name       string   `json:"name"`
					Provider   string   `json:"provider"`
					Signatures []string `json:"signatures"`
				}
				out := make([]entry, 0, len(routes))
				for _, r := range routes {
					out = append(out, entry{Name: r.Name, Provider: string(r.Provider), Signatures: r.Signatures})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tNAME\tPROVIDER\tSIGNATURES")
			for i, r := range routes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, r.Name, r.Provider, strings.Join(r.Signatures, ", "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the table as JSON")
	return cmd
}
