package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var asksCmd = &cobra.Command{
	Use:   "asks",
	Short: "List the ask types the service offers",
	Args:  cobra.NoArgs,
	RunE:  runAsks,
}

func init() {
	rootCmd.AddCommand(asksCmd)
}

func runAsks(cmd *cobra.Command, _ []string) error {
	out := newUI()

	client, ctx, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	spinner := out.NewSpinner("Loading ask catalog...")
	spinner.Start()
	cat, err := client.LoadAskCatalog(ctx)
	spinner.Stop()
	if err != nil {
		return err
	}

	if out.JSON() {
		for _, name := range cat.Names() {
			defaults, _ := cat.Defaults(name)
			askType, _ := cat.AskType(name)
			if err := out.Emit(map[string]any{"name": name, "ask_type": askType, "attributes": defaults}); err != nil {
				return err
			}
		}
		return nil
	}

	out.Section("Ask catalog")
	rows := make([][]string, 0, cat.Len())
	for _, name := range cat.Names() {
		defaults, _ := cat.Defaults(name)
		rows = append(rows, []string{name, formatDefaults(defaults)})
	}
	out.Table([]string{"NAME", "FIELDS"}, rows)
	return nil
}

func formatDefaults(defaults map[string]any) string {
	if len(defaults) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, defaults[k])
	}
	return strings.Join(parts, " ")
}
