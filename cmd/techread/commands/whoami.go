package commands

import (
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Authenticate and print the account name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := newUI()

		client, ctx, err := openClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		name, err := client.Username(ctx)
		if err != nil {
			return err
		}

		if out.JSON() {
			return out.Emit(map[string]string{"username": name})
		}
		out.Success("Authenticated as %s", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
