package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thecodingmachine/security.userfiledao/internal/convert"
	"github.com/thecodingmachine/security.userfiledao/internal/errs"
	"github.com/thecodingmachine/security.userfiledao/internal/limiter"
	"github.com/thecodingmachine/security.userfiledao/internal/model"
	"github.com/thecodingmachine/security.userfiledao/internal/service"
)

var errNoSuchUser = errors.New("no such user")

// parseOptions decodes a JSON document into option values; "" means none.
func parseOptions(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("--options: %w", err)
	}
	return v, nil
}

func (a *app) mustFind(cmd *cobra.Command, login string) (*model.UserRecord, error) {
	u, err := a.dir.LookupByLogin(cmd.Context(), login)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", errNoSuchUser, login)
	}
	return u, nil
}

func (a *app) addCmd() *cobra.Command {
	var options string
	cmd := &cobra.Command{
		Use:   "add LOGIN",
		Short: "add a user; the file is created if missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			pw, err := a.password(cmd, "Password: ")
			if err != nil {
				return err
			}
			svc := service.NewAuthService(a.dir, nil, 0, nil, a.log)
			return svc.Register(cmd.Context(), args[0], pw, opts)
		},
	}
	cmd.Flags().StringVar(&options, "options", "", "user options as a JSON document")
	return cmd
}

func (a *app) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd LOGIN",
		Short: "change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.mustFind(cmd, args[0])
			if err != nil {
				return err
			}
			pw, err := a.password(cmd, "New password: ")
			if err != nil {
				return err
			}
			if err := u.SetClearTextPassword(pw); err != nil {
				return err
			}
			if err := a.dir.RegisterUser(cmd.Context(), u); err != nil {
				return err
			}
			if err := a.dir.Write(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("password changed", zap.String("login", u.Login()))
			return nil
		},
	}
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove LOGIN",
		Aliases: []string{"rm"},
		Short:   "remove a user",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// the lookup also loads the file so the write keeps the other users
			if _, err := a.mustFind(cmd, args[0]); err != nil {
				return err
			}
			if err := a.dir.RemoveUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := a.dir.Write(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("user removed", zap.String("login", args[0]))
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "list logins, sorted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logins, err := a.dir.Logins(cmd.Context())
			if err != nil {
				return err
			}
			for _, l := range logins {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
}

type shownUser struct {
	Login   string `json:"login"`
	Options any    `json:"options"`
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show LOGIN",
		Short: "print a user's login and options as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.mustFind(cmd, args[0])
			if err != nil {
				return err
			}
			opts, err := convert.FromValue(u.Options())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), shownUser{Login: u.Login(), Options: opts})
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check LOGIN",
		Short: "verify a password; exits non-zero on mismatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(cmd, "Password: ")
			if err != nil {
				return err
			}
			u, err := a.dir.LookupByCredentials(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			if u == nil {
				return errs.ErrUnauthorized
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

type issuedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *app) loginCmd() *cobra.Command {
	var (
		jwtKey string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login LOGIN",
		Short: "check a password and print a signed access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jwtKey == "" {
				jwtKey = a.v.GetString("jwt_key")
			}
			if jwtKey == "" {
				return errors.New("missing jwt signing key (--jwt-key)")
			}
			pw, err := a.password(cmd, "Password: ")
			if err != nil {
				return err
			}
			svc := service.NewAuthService(a.dir, []byte(jwtKey), ttl, limiter.NewMemory(limiter.DefaultPolicy), a.log)
			tok, _, err := svc.Login(cmd.Context(), args[0], pw, "cli")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), issuedToken{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt})
		},
	}
	cmd.Flags().StringVar(&jwtKey, "jwt-key", "", "HS256 signing key (or USERDIR_JWT_KEY)")
	cmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "token lifetime")
	return cmd
}
