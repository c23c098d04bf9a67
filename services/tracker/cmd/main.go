package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/services/tracker/internal/api"
)

func main() {
	app := &cli.Command{
		Name:    "soundmesh-rendezvous",
		Usage:   "Rendezvous server for the soundmesh peer network",
		Version: api.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: ":8080",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "PostgreSQL connection string (or DATABASE_URL env)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to a rotated file instead of the console",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var log logger.Logger
			if path := c.String("log-file"); path != "" {
				log = logger.NewFile(path)
			} else {
				log = logger.NewConsole()
			}

			connStr := c.String("db")
			if connStr == "" {
				connStr = os.Getenv("DATABASE_URL")
			}

			var server *api.Server
			if connStr != "" {
				log.Info("using PostgreSQL storage")
				var err error
				server, err = api.NewServerWithDB(c.String("addr"), connStr, log)
				if err != nil {
					return fmt.Errorf("database init failed: %w", err)
				}
			} else {
				log.Info("using in-memory storage, registry is lost on restart")
				server = api.NewServer(c.String("addr"), log)
			}

			return server.Run()
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
