package cmd

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekmate/portal/app"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
			runLogout(cmd.Context(), deps.Sessions)
			return nil
		})
	},
}

func runLogout(ctx context.Context, sessions sessionClient) {
	sessions.Logout(ctx)
	pterm.Success.Println("Logged out")
}
