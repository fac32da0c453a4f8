// Package credentials produces the secrets remote gateways and listener
// users authenticate with.
package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/orris-inc/sidecar/internal/infrastructure/auth"
	"github.com/orris-inc/sidecar/internal/interfaces/cli/bootstrap"
)

var (
	env        string
	configPath string
	cost       int
	nodeID     string
	ttl        time.Duration
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Generate listener credentials",
	}

	cmd.AddCommand(newHashPasswordCommand(), newIssueTokenCommand())
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for auth.basic_users",
		Long:  `Read a password from the terminal (or the first line of stdin) and print its bcrypt hash for the auth.basic_users[].password_hash setting.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a JWT a remote node can send as its bearer token",
		Long:  `Sign a JWT for --node with auth.jwt_secret. A zero --ttl issues a token that never expires.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := bootstrap.Init(env, configPath)
			if err != nil {
				return err
			}
			token, err := IssueToken(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, nodeID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "Environment (development, test, production)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")
	cmd.Flags().StringVar(&nodeID, "node", "", "Remote node ID the token is issued to (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, 0 for no expiry")
	cmd.MarkFlagRequired("node")
	return cmd
}

// IssueToken signs a token for nodeID.
func IssueToken(secret, issuer, nodeID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured")
	}
	if strings.TrimSpace(nodeID) == "" {
		return "", fmt.Errorf("node ID is required")
	}
	if ttl < 0 {
		return "", fmt.Errorf("ttl must not be negative")
	}
	return auth.NewJWTService(secret, issuer).Generate(nodeID, ttl)
}

func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return passwordOrError(string(b))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return passwordOrError(strings.TrimRight(line, "\r\n"))
}

func passwordOrError(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return p, nil
}
