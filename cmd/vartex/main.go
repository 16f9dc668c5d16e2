// Command vartex indexes an Arweave-style remote chain into a Cassandra-
// style wide-column store and serves GraphQL-shaped queries over it.
// Grounded on cmd/kcn/main.go's urfave/cli app assembly (App construction,
// Before/After hooks, Prometheus exporter wiring), scaled down from a
// full consensus node's flag surface to this module's three subcommands.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xloem/vartex/internal/checkpoint"
	"github.com/xloem/vartex/internal/config"
	"github.com/xloem/vartex/internal/doctor"
	"github.com/xloem/vartex/internal/eventbus"
	"github.com/xloem/vartex/internal/metrics"
	"github.com/xloem/vartex/internal/nodeclient"
	"github.com/xloem/vartex/internal/progress"
	"github.com/xloem/vartex/internal/querybuilder"
	"github.com/xloem/vartex/internal/gqlgateway"
	"github.com/xloem/vartex/internal/schema"
	"github.com/xloem/vartex/internal/store"
	"github.com/xloem/vartex/internal/sync"
	"github.com/xloem/vartex/internal/vlog"
	"github.com/xloem/vartex/internal/workerpool"
)

var logger = vlog.New("cmd")

var configFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to a TOML configuration file",
}

var keyspaceFlag = cli.StringFlag{
	Name:  "keyspace",
	Usage: "Cassandra keyspace name",
	Value: "vartex",
}

var listenFlag = cli.StringFlag{
	Name:  "listen",
	Usage: "HTTP listen address for the serve subcommand",
	Value: ":8080",
}

func main() {
	app := cli.NewApp()
	app.Name = "vartex"
	app.Usage = "Arweave-style chain indexer and GraphQL gateway"
	app.Commands = []cli.Command{
		schemaInitCommand,
		syncCommand,
		serveCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("fatal: %v", err))
		os.Exit(1)
	}
}

var schemaInitCommand = cli.Command{
	Name:  "schema-init",
	Usage: "create the keyspace and tables on a fresh Cassandra cluster (spec.md §4.9 Schema Initializer)",
	Flags: []cli.Flag{configFlag, keyspaceFlag},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		st, err := store.New(cfg.CassandraContactPoints, "system")
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		if err := schema.Init(ctx, st, c.String(keyspaceFlag.Name), 1, cfg.DBTimeout); err != nil {
			return err
		}
		logger.Info("schema initialized", "keyspace", c.String(keyspaceFlag.Name))
		return nil
	},
}

var syncCommand = cli.Command{
	Name:  "sync",
	Usage: "run startSync then the polling loop (spec.md §4.6)",
	Flags: []cli.Flag{configFlag, keyspaceFlag},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		st, err := store.New(cfg.CassandraContactPoints, c.String(keyspaceFlag.Name))
		if err != nil {
			return err
		}
		defer st.Close()

		node := nodeclient.New(cfg.NodeBaseURL)
		doc := doctor.New(st, cfg.DoctorCacheSizeBytes)

		ckpt, err := checkpoint.NewLevelDB("./data/checkpoint")
		if err != nil {
			return err
		}
		defer ckpt.Close()

		inflight, err := checkpoint.NewInFlightJournal("./data/inflight")
		if err != nil {
			return err
		}
		defer inflight.Close()

		var bus *eventbus.Bus
		if len(cfg.KafkaBrokers) > 0 {
			bus, err = eventbus.New(eventbus.Config{Brokers: cfg.KafkaBrokers, TopicPrefix: "vartex"})
			if err != nil {
				return err
			}
			defer bus.Close()
		}

		orchestrator := sync.New(node, st, doc, ckpt, inflight, bus, cfg)
		pool := workerpool.New(cfg.ParallelWorkers, orchestrator.ImportBlock)
		orchestrator.SetPool(pool)

		renderer := progress.New(os.Stdout)
		go renderer.Run(pool.Progress())

		ctx, cancel := context.WithCancel(context.Background())
		trapSignals(cancel)

		if err := orchestrator.Run(ctx); err != nil {
			return err
		}
		return nil
	},
}

var serveCommand = cli.Command{
	Name:  "serve",
	Usage: "serve the GraphQL query surface and Prometheus metrics (spec.md §4.7, Non-goal exception)",
	Flags: []cli.Flag{configFlag, keyspaceFlag, listenFlag},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		st, err := store.New(cfg.CassandraContactPoints, c.String(keyspaceFlag.Name))
		if err != nil {
			return err
		}
		defer st.Close()

		var qb *querybuilder.Builder
		if cfg.RedisAddr != "" {
			qb, err = querybuilder.New(st, 1024, querybuilder.NewRedisCache(cfg.RedisAddr, 5*time.Minute))
		} else {
			qb, err = querybuilder.New(st, 1024, nil)
		}
		if err != nil {
			return err
		}

		handler, err := gqlgateway.NewHandler(qb)
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/graphql", handler)
		mux.Handle("/metrics", metrics.Handler())

		logger.Info("serving", "addr", c.String(listenFlag.Name))
		return http.ListenAndServe(c.String(listenFlag.Name), mux)
	},
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String(configFlag.Name))
}

func trapSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()
}
