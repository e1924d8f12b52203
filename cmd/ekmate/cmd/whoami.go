package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ekmate/portal/app"
)

var whoamiJSON bool

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
			return runWhoami(cmd.Context(), cmd.OutOrStdout(), deps.Sessions, whoamiJSON)
		})
	},
}

func init() {
	whoamiCmd.Flags().BoolVar(&whoamiJSON, "json", false, "Print the identity as JSON")
}

func runWhoami(ctx context.Context, out io.Writer, sessions sessionClient, asJSON bool) error {
	snap, err := awaitSettled(ctx, sessions, statusWait)
	if err != nil && !snap.Authenticated() {
		return fmt.Errorf("session not resolved: %w", err)
	}
	if !snap.Authenticated() {
		return errors.New("not logged in")
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap.Identity)
	}

	_, err = fmt.Fprintf(out, "%s <%s> %s\n", snap.Identity.DisplayName(), snap.Identity.Email, snap.Identity.Role)
	return err
}
