// Command ntrip-relay runs the relay core standalone, seeded from an
// in-memory Repository, and exposes a sourcetable probe utility. Structured
// like de-bkg-gognss/cmd/rnxgo's urfave/cli app (top-level flags plus
// subcommands), generalized to this relay's "serve" and "probe" verbs.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/bramburn/ntrip-relay/internal/caster"
	"github.com/bramburn/ntrip-relay/internal/config"
	"github.com/bramburn/ntrip-relay/internal/repository"
	"github.com/bramburn/ntrip-relay/internal/supervisor"
)

func main() {
	app := &cli.App{
		Name:      "ntrip-relay",
		HelpName:  "ntrip-relay",
		Usage:     "NTRIP relay server: source client engine + caster server",
		Version:   "v0.1.0",
		Compiled:  time.Now(),
		Copyright: "(c) NTRIP Relay Service",
		Commands: []*cli.Command{
			serveCommand(),
			probeCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the caster listener and reconcile relays against the repository",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "seed-mountpoint", Usage: "optional mountpoint name to seed with a fake active station (for smoke-testing without a real repository)"},
		},
		Action: func(c *cli.Context) error {
			return runServe(c)
		},
	}
}

func runServe(c *cli.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.LoadCaster()
	repo := repository.NewMemory()

	if mount := c.String("seed-mountpoint"); mount != "" {
		repo.PutStation(&repository.Station{
			ID:                 "seed-" + mount,
			Mountpoint:         mount,
			Status:             repository.StatusActive,
			UpstreamHost:       "127.0.0.1",
			UpstreamPort:       2101,
			UpstreamMountpoint: mount,
		})
	}

	cstr := caster.NewServer(caster.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Operator: cfg.Operator,
	}, repo, logger)

	if err := cstr.Start(); err != nil {
		return fmt.Errorf("ntrip-relay: %w", err)
	}

	sv := supervisor.New(repo, cstr, logger)
	if err := sv.SyncWithRepository(context.Background()); err != nil {
		logger.WithError(err).Warn("initial sync failed")
	}

	logger.WithField("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).Info("ntrip-relay serving")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	sv.Shutdown()
	return nil
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:      "probe",
		Usage:     "fetch and print a remote caster's sourcetable",
		ArgsUsage: "<host> <port>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "optional basic auth username"},
			&cli.StringFlag{Name: "pass", Usage: "optional basic auth password"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				cli.ShowCommandHelpAndExit(c, "probe", 1)
				return nil
			}
			host := c.Args().Get(0)
			var port int
			if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &port); err != nil {
				return fmt.Errorf("ntrip-relay: invalid port %q", c.Args().Get(1))
			}

			mounts, err := supervisor.ProbeSource(host, port, c.String("user"), c.String("pass"))
			if err != nil {
				return fmt.Errorf("ntrip-relay: probe: %w", err)
			}
			for _, m := range mounts {
				fmt.Printf("%s\t%.4f,%.4f\t%s\n", m.Name, m.Latitude, m.Longitude, m.Format)
			}
			return nil
		},
	}
}
