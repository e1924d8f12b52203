package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ekmate/portal/app"
)

var (
	loginEmail    string
	passwordStdin bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to EKmate and store the session token",
	Long: `Sign in with an email and password. The token returned by the
backend is written to the configured token store.

Use --password-stdin to pipe the password in scripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.TrimSpace(loginEmail)
		if email == "" {
			var err error
			email, err = pterm.DefaultInteractiveTextInput.Show("Email")
			if err != nil {
				return fmt.Errorf("failed to read email: %w", err)
			}
		}

		password, err := readPassword(cmd.InOrStdin(), passwordStdin)
		if err != nil {
			return err
		}

		return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
			return runLogin(cmd.Context(), deps.Sessions, email, password)
		})
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
	loginCmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
}

// readPassword reads one line from in when fromStdin is set, otherwise prompts
// with a masked input.
func readPassword(in io.Reader, fromStdin bool) (string, error) {
	if !fromStdin {
		password, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return password, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password on stdin")
	}
	return password, nil
}

// spinnerEnabled reports whether progress animation should be drawn. The
// spinner is skipped when pterm output is off or stderr is not a terminal.
func spinnerEnabled() bool {
	return pterm.Output && term.IsTerminal(int(os.Stderr.Fd()))
}

func runLogin(ctx context.Context, sessions sessionClient, email, password string) error {
	var spinner *pterm.SpinnerPrinter
	if spinnerEnabled() {
		spinner, _ = pterm.DefaultSpinner.WithWriter(os.Stderr).Start("Signing in...")
	}

	result := sessions.Login(ctx, email, password)
	if !result.Success {
		if spinner != nil {
			_ = spinner.Stop()
		}
		pterm.Error.Println(result.Message)
		return errors.New("login failed")
	}

	if spinner != nil {
		spinner.Success("Signed in")
	}
	if result.Identity != nil {
		pterm.Success.Printf("Logged in as %s (%s)\n", result.Identity.DisplayName(), result.Identity.Role)
	}
	if snap := sessions.Snapshot(); snap.Degraded {
		pterm.Warning.Println("Profile could not be loaded; showing details from the token only")
	}
	return nil
}
