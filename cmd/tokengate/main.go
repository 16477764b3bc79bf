// Command tokengate inspects OIDC access tokens from the command line: it
// resolves the issuer, fetches the merged user info and optionally checks
// entitlement requirements, using the same engine that services embed.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"

	"github.com/vo-tools/tokengate"
	"github.com/vo-tools/tokengate/requirements"
	"github.com/vo-tools/tokengate/tokens"
)

type tokenEnv struct {
	AccessToken string `env:"ACCESS_TOKEN,default="`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    int
	)
	root := &cobra.Command{
		Use:           "tokengate",
		Short:         "Inspect and authorize OIDC access tokens",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path of a YAML config file")
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity")

	newAuthorizer := func() (*tokengate.Authorizer, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg.Logger = newLogger(verbose)
		return tokengate.New(cfg)
	}

	root.AddCommand(newUserinfoCmd(newAuthorizer))
	root.AddCommand(newCheckCmd(newAuthorizer))
	return root
}

func newLogger(verbose int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbose == 1:
		level = slog.LevelInfo
	case verbose >= 2:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// tokenFromArgsOrEnv takes the access token from the first positional
// argument, falling back to the ACCESS_TOKEN environment variable.
func tokenFromArgsOrEnv(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	var env tokenEnv
	if err := envdecode.Decode(&env); err == nil && env.AccessToken != "" {
		return env.AccessToken, nil
	}
	return "", errors.New("no access token: pass it as an argument or set ACCESS_TOKEN")
}

func newUserinfoCmd(newAuthorizer func() (*tokengate.Authorizer, error)) *cobra.Command {
	var showToken bool
	cmd := &cobra.Command{
		Use:   "userinfo [ACCESS_TOKEN]",
		Short: "Resolve the issuer and print the merged user info for a token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tokenFromArgsOrEnv(args)
			if err != nil {
				return err
			}
			authz, err := newAuthorizer()
			if err != nil {
				return err
			}
			defer authz.Close()

			if showToken {
				if info, err := tokens.Decode(token); err == nil {
					printJSON(cmd, "access token", info.Body)
				} else {
					fmt.Fprintln(cmd.ErrOrStderr(), "access token is not a JWT")
				}
			}

			infos, err := authz.Authenticate(cmd.Context(), token)
			if err != nil {
				return err
			}
			printJSON(cmd, "user info", infos.AllClaims())
			fmt.Fprintf(cmd.OutOrStdout(), "subject: %s\nissuer:  %s\n", infos.Subject(), infos.Issuer())
			if infos.ValidFor() > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "valid for another %s\n", infos.ValidFor().Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showToken, "show-access-token", false, "also print the decoded token body")
	return cmd
}

func newCheckCmd(newAuthorizer func() (*tokengate.Authorizer, error)) *cobra.Command {
	var (
		claim    string
		required []string
		mode     string
	)
	cmd := &cobra.Command{
		Use:   "check [ACCESS_TOKEN]",
		Short: "Check entitlement requirements against a token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tokenFromArgsOrEnv(args)
			if err != nil {
				return err
			}
			req, err := requirements.ForEntitlements(required, claim, requirements.Mode(mode))
			if err != nil {
				return err
			}
			authz, err := newAuthorizer()
			if err != nil {
				return err
			}
			defer authz.Close()

			res, err := authz.Check(cmd.Context(), token, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			if !res.Satisfied {
				return errors.New("requirement not satisfied")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&claim, "claim", "eduperson_entitlement", "claim holding the user's entitlements")
	cmd.Flags().StringArrayVar(&required, "required", nil, "required entitlement, repeatable")
	cmd.Flags().StringVar(&mode, "mode", string(requirements.MatchAll), `how many required values must match: "all", "one" or a number`)
	_ = cmd.MarkFlagRequired("required")
	return cmd
}

func printJSON(cmd *cobra.Command, label string, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "cannot render %s: %v\n", label, err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s:\n%s\n", label, b)
}
