package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/omnirouter/internal/api/auth"
)

// TokenCommand issues agent tokens for the reply API
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for the agent reply API",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user", Usage: "Agent user id", Required: true},
			&cli.Int64Flag{Name: "org", Usage: "Organization id", Required: true},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 12 * time.Hour},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret)
	tokens.AccessTokenDuration = c.Duration("ttl")
	token, expiresAt, err := tokens.Issue(c.Int64("user"), c.Int64("org"))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, token)
	fmt.Fprintf(c.App.ErrWriter, "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
