package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/common"
)

func (r *runner) registerCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			email, err := a.prompt.valueOr(email, "Email")
			if err != nil {
				return err
			}
			password, err := a.prompt.Password("Password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(password)

			id, err := a.auth.Register(cmd.Context(), email, password, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created (id %s). You can log in now.\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&name, "name", "n", "", "full name")
	return cmd
}

func (r *runner) loginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in; works offline with the last cached credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			ctx := cmd.Context()
			email, err := a.prompt.valueOr(email, "Email")
			if err != nil {
				return err
			}
			password, err := a.prompt.Password("Password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(password)

			u, err := a.auth.Login(ctx, email, password)
			switch {
			case errors.Is(err, client.ErrLocalDataNotAvailable):
				return errors.New("service unreachable and no offline credentials cached on this device")
			case errors.Is(err, client.ErrUnauthorized):
				return errors.New("invalid email or password")
			case err != nil:
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", u.Email, a.mode())
			if a.sync.IsOnline() {
				// Replay what was queued before the session existed.
				a.sync.Probe(ctx)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

func (r *runner) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and the cached data; queued changes are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := r.app.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (r *runner) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := r.app.auth.CurrentUser(cmd.Context())
			if err != nil {
				return fmt.Errorf("not logged in: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", u.ID, u.Email, u.FullName)
			return nil
		},
	}
}
