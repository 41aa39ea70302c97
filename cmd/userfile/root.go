package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/thecodingmachine/security.userfiledao/internal/logging"
	"github.com/thecodingmachine/security.userfiledao/internal/repository/file"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// app carries what every subcommand needs, built once in PersistentPreRunE.
type app struct {
	v   *viper.Viper
	log *zap.Logger
	dir *file.UserDirectory
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "userfile",
		Short:         "manage a JSON or YAML users file",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("file", "f", "users.json", "users file; .yaml/.yml selects YAML")
	pf.String("log-level", "warn", "debug, info, warn or error")
	pf.Bool("password-stdin", false, "read the password from the first line of stdin")

	a.v.SetEnvPrefix("USERDIR")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindPFlag("user_file", pf.Lookup("file"))
	_ = a.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("password_stdin", pf.Lookup("password-stdin"))

	cmd.AddCommand(
		a.addCmd(),
		a.passwdCmd(),
		a.removeCmd(),
		a.listCmd(),
		a.showCmd(),
		a.checkCmd(),
		a.loginCmd(),
	)
	return cmd
}

func (a *app) setup() error {
	log, err := logging.New(a.v.GetString("log_level"))
	if err != nil {
		return err
	}
	a.log = log

	dir, err := file.New(a.v.GetString("user_file"))
	if err != nil {
		return err
	}
	a.dir = dir
	a.log.Debug("users file", zap.String("path", dir.Path()))
	return nil
}

// password reads a password from stdin when --password-stdin is set, and
// otherwise prompts on the terminal without echo.
func (a *app) password(cmd *cobra.Command, prompt string) (string, error) {
	var pw string
	if a.v.GetBool("password_stdin") {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = strings.TrimRight(line, "\r\n")
	} else {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = string(b)
	}
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
