package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekmate/portal/app"
	"github.com/ekmate/portal/session"
)

var statusWait time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display the session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
			snap, err := awaitSettled(cmd.Context(), deps.Sessions, statusWait)
			if err != nil {
				pterm.Warning.Printf("Session still %s after %s\n", snap.State, statusWait)
			}
			printStatus(snap)
			if !snap.Authenticated() {
				return errors.New("not logged in")
			}
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().DurationVar(&statusWait, "wait", 5*time.Second, "How long to wait for the profile to load")
}

// awaitSettled waits up to d for the session to settle. On timeout it returns
// the current snapshot together with the error.
func awaitSettled(ctx context.Context, sessions sessionClient, d time.Duration) (session.Snapshot, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	snap, err := sessions.Await(waitCtx)
	if err != nil {
		return sessions.Snapshot(), err
	}
	return snap, nil
}

func printStatus(snap session.Snapshot) {
	pterm.DefaultSection.Println("Session Status")

	if !snap.Authenticated() {
		pterm.Info.Printf("State: %s\n", snap.State)
		if snap.Error != "" {
			pterm.Error.Println(snap.Error)
		}
		return
	}

	id := snap.Identity
	data := pterm.TableData{
		{"FIELD", "VALUE"},
		{"State", snap.State.String()},
		{"ID", id.ID},
		{"Email", id.Email},
		{"Name", id.Name},
		{"Role", string(id.Role)},
		{"Profile", profileLabel(snap.Degraded)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		fmt.Printf("%s %s (%s)\n", id.ID, id.Email, id.Role)
	}
}

func profileLabel(degraded bool) string {
	if degraded {
		return "token claims only"
	}
	return "loaded"
}
