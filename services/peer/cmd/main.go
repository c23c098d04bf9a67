package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/p2p-songsharing/soundmesh/pkg/logger"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/lan"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/library"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/session"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/settings"
)

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "soundmesh.json"
	}
	return filepath.Join(home, ".soundmesh", "settings.json")
}

func main() {
	app := &cli.Command{
		Name:        "soundmesh",
		Usage:       "Share songs with peers",
		Version:     "1.0.0",
		Description: "A peer client for discovering and exchanging songs over a rendezvous server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Usage: "Rendezvous server URL",
				Value: "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Path to the persisted settings file",
				Value: defaultStatePath(),
			},
			&cli.StringFlag{
				Name:    "music-dir",
				Aliases: []string{"m"},
				Usage:   "Directory holding shareable songs",
				Value:   "./music",
			},
			&cli.StringFlag{
				Name:    "downloads",
				Aliases: []string{"d"},
				Usage:   "Directory for downloaded songs",
				Value:   "./downloads",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Override the display name shown to peers",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to a rotated file instead of the console",
			},
			&cli.BoolFlag{
				Name:  "lan",
				Usage: "Also announce presence over mDNS on the local network",
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "start",
				Aliases: []string{"s"},
				Usage:   "Start sharing in interactive mode",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runPeer(c, true)
				},
			},
			{
				Name:  "daemon",
				Usage: "Start sharing without the interactive menu",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runPeer(c, false)
				},
			},
			{
				Name:    "lan-peers",
				Aliases: []string{"lp"},
				Usage:   "List soundmesh peers announcing on the local network",
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Println("Browsing the local network...")
					peers, err := lan.Browse(ctx, 5*time.Second, logger.Discard())
					if err != nil {
						return err
					}
					if len(peers) == 0 {
						fmt.Println(infoStyle.Render("No peers found on the LAN"))
						return nil
					}
					for _, p := range peers {
						fmt.Printf("  %s (%s)\n", p.Name, p.PeerID)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runPeer assembles and starts a session from the CLI flags, then
// either drives the interactive menu or blocks until interrupted.
func runPeer(c *cli.Command, interactive bool) error {
	var log logger.Logger
	if path := c.String("log-file"); path != "" {
		log = logger.NewFile(path)
	} else if interactive {
		// Keep the menu readable; logs go to a file next to the settings
		log = logger.NewFile(filepath.Join(filepath.Dir(c.String("state")), "soundmesh.log"))
	} else {
		log = logger.NewConsole()
	}

	store, err := settings.NewStore(c.String("state"))
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	if err := store.Update(func(s *settings.Settings) {
		s.ServerURL = c.String("server")
		s.SharingEnabled = true
		if c.String("name") != "" {
			s.DisplayName = c.String("name")
		}
		if s.DisplayName == "" {
			hostname, err := os.Hostname()
			if err != nil {
				hostname = "soundmesh-peer"
			}
			s.DisplayName = hostname
		}
	}); err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	if err := os.MkdirAll(c.String("downloads"), 0755); err != nil {
		return err
	}

	// The catalog spans both directories so finished downloads become
	// shareable after the post-transfer rescan.
	sess := session.New(session.Config{
		Store:        store,
		Catalog:      library.NewDirCatalog(c.String("music-dir"), c.String("downloads")),
		DestDir:      c.String("downloads"),
		Logger:       log,
		LANAdvertise: c.Bool("lan"),
	})

	if err := sess.Start(); err != nil {
		return err
	}
	defer sess.Stop()

	conf := store.Get()
	fmt.Println(titleStyle.Render(" soundmesh "))
	fmt.Printf("Running as: %s\n", conf.DisplayName)
	fmt.Println(infoStyle.Render("Sharing from " + c.String("music-dir")))

	if interactive {
		runMenu(sess, store)
		return nil
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
	return nil
}
