package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

func tokenCmd(configPath *string) *cobra.Command {
	var (
		count  int
		prefix string
		start  int
		ttl    time.Duration
		output string
	)
	cmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Print HS256 tokens accepted by a server in auth test mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.TestSecret == "" {
				return errors.New("TEST_JWT_SECRET must be set")
			}
			switch {
			case count < 1:
				return errors.New("count must be at least 1")
			case start < 1:
				return errors.New("start index must be at least 1")
			case len(args) > 0 && count > 1:
				return errors.New("explicit user ID cannot be provided when generating multiple tokens")
			}

			users := tokenUsers(count, prefix, start, args)
			tokens := make([]string, len(users))
			for i, u := range users {
				if tokens[i], err = testToken([]byte(cfg.Auth.TestSecret), u, ttl, time.Now()); err != nil {
					return err
				}
			}
			if output != "" {
				if err := writeTokens(output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&prefix, "prefix", "test-user", "user id prefix when count > 1")
	cmd.Flags().IntVar(&start, "start", 1, "first index of generated user ids")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&output, "output", "", "file receiving all tokens as a JSON array")
	return cmd
}

func tokenUsers(count int, prefix string, start int, args []string) []string {
	switch {
	case len(args) > 0:
		return []string{args[0]}
	case count == 1:
		return []string{prefix}
	}
	users := make([]string, count)
	for i := range users {
		users[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return users
}

func testToken(secret []byte, userID string, ttl time.Duration, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.ConfigStd.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
