package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/omnirouter/internal/api/auth"
)

func newApp(out *bytes.Buffer) *cli.App {
	return &cli.App{
		Name:      "omnirouter",
		Writer:    out,
		ErrWriter: &bytes.Buffer{},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}},
		},
		Commands: []*cli.Command{ConfigCommand(), TokenCommand(), MigrateCommand(), ServeCommand()},
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnirouter.toml")
	var out bytes.Buffer

	require.NoError(t, newApp(&out).Run([]string{"omnirouter", "config", "init", "-o", path}))
	assert.Contains(t, out.String(), "Created configuration file")

	out.Reset()
	require.NoError(t, newApp(&out).Run([]string{"omnirouter", "-c", path, "config", "validate"}))
	assert.Contains(t, out.String(), "Configuration is valid")
}

func TestToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnirouter.toml")
	var out bytes.Buffer
	require.NoError(t, newApp(&out).Run([]string{"omnirouter", "config", "init", "-o", path}))

	out.Reset()
	require.NoError(t, newApp(&out).Run([]string{"omnirouter", "-c", path, "token", "--user", "3", "--org", "7"}))

	claims, err := auth.NewTokenService("change-me").ValidateAccessToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.UserID)
	assert.Equal(t, int64(7), claims.OrgID)
}
