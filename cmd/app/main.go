// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"log"
	"os"

	"codeberg.org/oliverandrich/inviteauth/internal/config"
	"codeberg.org/oliverandrich/inviteauth/internal/server"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:   "inviteauth",
		Usage:  "Invite-based registration and password authentication service",
		Flags:  config.Flags(),
		Action: server.Run,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server (default)",
				Action: server.Run,
			},
			{
				Name:   "purge-tokens",
				Usage:  "Delete expired verification tokens and exit",
				Action: server.PurgeTokens,
			},
			{
				Name:  "migrate",
				Usage: "Database migrations",
				Commands: []*cli.Command{
					{
						Name:   "down",
						Usage:  "Roll back the most recent migration",
						Action: server.MigrateDown,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
