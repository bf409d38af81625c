// Command kadnode runs a single Kademlia DHT peer: a UDP endpoint serving
// PING/STORE/FIND_NODE/FIND_VALUE, a routing table of known peers, and the
// periodic maintenance that keeps both fresh. Modeled on the teacher's
// cmd/ binaries, built on github.com/urfave/cli/v2.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/kadnet/kadnode/internal/config"
	"github.com/kadnet/kadnode/internal/kademlia"
	"github.com/kadnet/kadnode/internal/log"
	"github.com/kadnet/kadnode/internal/metrics"
)

func main() {
	app := &cli.App{
		Name:  "kadnode",
		Usage: "run a Kademlia DHT peer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
			&cli.StringFlag{Name: "bind", Usage: "UDP address to listen on, e.g. 0.0.0.0:4000"},
			&cli.StringSliceFlag{Name: "bootstrap", Usage: "bootstrap peer address (repeatable)"},
			&cli.StringFlag{Name: "bootstrap-file", Usage: "YAML file listing bootstrap peer addresses"},
			&cli.IntFlag{Name: "k", Usage: "k-bucket size / replication factor"},
			&cli.IntFlag{Name: "alpha", Usage: "lookup concurrency parameter"},
			&cli.StringFlag{Name: "self-id", Usage: "40-hex-char node id; random if omitted"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "address to serve /metrics on, e.g. 127.0.0.1:9100"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("kadnode exited with error", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("bind"); v != "" {
		cfg.BindAddr = v
	}
	if c.IsSet("k") {
		cfg.K = c.Int("k")
	}
	if c.IsSet("alpha") {
		cfg.Alpha = c.Int("alpha")
	}
	if v := c.String("self-id"); v != "" {
		cfg.SelfID = v
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if peers := c.StringSlice("bootstrap"); len(peers) > 0 {
		cfg.BootstrapPeers = append(cfg.BootstrapPeers, peers...)
	}
	if f := c.String("bootstrap-file"); f != "" {
		peers, err := config.LoadBootstrapPeersYAML(f)
		if err != nil {
			return err
		}
		cfg.BootstrapPeers = append(cfg.BootstrapPeers, peers...)
	}

	reg := metrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		go func() {
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Handler()}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "err", err)
			}
		}()
	}

	node, err := kademlia.New(cfg, reg)
	if err != nil {
		return fmt.Errorf("kadnode: %w", err)
	}
	log.Info("kadnode starting", "self_id", node.Self.String(), "bind", node.Transport.LocalAddr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return node.Run(ctx)
}
