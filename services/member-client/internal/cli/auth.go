package cli

import (
	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/session"
)

func authCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in, sign up and manage the session on this device",
	}
	cmd.AddCommand(loginCmd(e), signUpCmd(e), logoutCmd(e), resetPasswordCmd(e), whoamiCmd(e))
	return cmd
}

func loginCmd(e *env) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.app.Session.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			return e.printSession(s)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func signUpCmd(e *env) *cobra.Command {
	var password, name string
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.app.Session.Register(cmd.Context(), args[0], password, name)
			if err != nil {
				return err
			}
			return e.printSession(s)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func logoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.app.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			e.printf("signed out\n")
			return nil
		},
	}
}

func resetPasswordCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Send a password reset email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.app.Session.ResetPassword(cmd.Context(), args[0]); err != nil {
				return err
			}
			e.printf("if an account exists for %s, a reset link is on its way\n", args[0])
			return nil
		},
	}
}

func whoamiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.app.Session.Current(cmd.Context())
			if err != nil {
				return err
			}
			return e.printSession(s)
		},
	}
}

func (e *env) printSession(s session.Session) error {
	if e.asJSON {
		return e.printJSON(s)
	}
	name := s.DisplayName
	if name == "" {
		name = s.Email
	}
	e.printf("signed in as %s <%s> (%s)\n", name, s.Email, s.UserID)
	if !s.ExpiresAt.IsZero() {
		e.printf("session expires %s\n", formatTime(s.ExpiresAt))
	}
	if s.Stale {
		e.printf("offline: the session could not be refreshed and will be checked again when online\n")
	}
	return nil
}
