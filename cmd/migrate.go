package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/omnirouter/internal/database"
	"github.com/omnirouter/internal/jobqueue"
)

// MigrateCommand returns the schema migration command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations, River's included",
				Action: runMigrateUp,
			},
			{
				Name:  "down",
				Usage: "Roll back application migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to roll back",
						Value: 1,
					},
				},
				Action: runMigrateDown,
			},
			{
				Name:   "version",
				Usage:  "Print the current schema version",
				Action: runMigrateVersion,
			},
		},
	}
}

func databaseURL(c *cli.Context) (string, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return "", err
	}
	return database.ResolveURL(cfg.Database.URL)
}

func runMigrateUp(c *cli.Context) error {
	dbURL, err := databaseURL(c)
	if err != nil {
		return err
	}

	version, err := database.MigrateUp(dbURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Schema at version %d\n", version)

	pool, err := database.Connect(c.Context, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := jobqueue.Migrate(c.Context, pool)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Applied %d River migrations\n", len(applied))
	return nil
}

func runMigrateDown(c *cli.Context) error {
	dbURL, err := databaseURL(c)
	if err != nil {
		return err
	}

	version, err := database.MigrateDown(dbURL, c.Int("steps"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Schema at version %d\n", version)
	return nil
}

func runMigrateVersion(c *cli.Context) error {
	dbURL, err := databaseURL(c)
	if err != nil {
		return err
	}

	version, dirty, err := database.MigrationVersion(dbURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Schema at version %d (dirty: %t)\n", version, dirty)
	return nil
}
