package main

import (
	"context"
	"fmt"
	"log/slog"
	_ "net/http/pprof"
	"os"

	"github.com/spilltree/spilltree/memberstore"
	"github.com/spilltree/spilltree/membertree"
	"github.com/spilltree/spilltree/util/svcutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "spilltree",
		Usage:   "binary tree membership placement service",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "store-url",
			Usage:   "member store: memory://, sqlite://<path>, postgresql://..., pebble://<dir>, redis://<host>:6379/<db>",
			Value:   "sqlite://data/spilltree/spilltree.sqlite",
			EnvVars: []string{"SPILLTREE_STORE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Usage:   "maximum number of concurrent SQL connections",
			Value:   16,
			EnvVars: []string{"SPILLTREE_MAX_DB_CONNECTIONS"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "trace SQL statements when an OTLP exporter is configured",
			EnvVars: []string{"SPILLTREE_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "redis-prefix",
			Usage:   "key prefix when the member store is redis",
			Value:   "spilltree",
			EnvVars: []string{"SPILLTREE_REDIS_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "position-policy",
			Usage:   "what to do when the requested sponsor slot is taken: spill or strict",
			Value:   "spill",
			EnvVars: []string{"SPILLTREE_POSITION_POLICY"},
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "placement attempts before giving up on conflicting commits",
			Value:   membertree.DefaultMaxAttempts,
			EnvVars: []string{"SPILLTREE_MAX_ATTEMPTS"},
		},
		&cli.IntFlag{
			Name:    "downline-cache-size",
			Usage:   "number of downline views cached per store revision (0 disables)",
			Value:   1024,
			EnvVars: []string{"SPILLTREE_DOWNLINE_CACHE_SIZE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"SPILLTREE_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: json or text",
			Value:   "json",
			EnvVars: []string{"SPILLTREE_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		registerCmd,
		validateCmd,
		memberCmd,
		downlineCmd,
		statsCmd,
		verifyCmd,
		importCmd,
		exportCmd,
		seedCmd,
	}

	return app.Run(args)
}

// openEngine opens the configured store and builds an engine over it. The caller closes the
// returned store.
func openEngine(ctx context.Context, cctx *cli.Context, logger *slog.Logger) (*membertree.Engine, memberstore.Store, error) {
	policy, err := membertree.ParsePositionPolicy(cctx.String("position-policy"))
	if err != nil {
		return nil, nil, err
	}

	store, err := memberstore.Open(ctx, cctx.String("store-url"), memberstore.Options{
		Logger:         logger,
		MaxConnections: cctx.Int("max-db-connections"),
		RedisPrefix:    cctx.String("redis-prefix"),
		Tracing:        cctx.Bool("db-tracing"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening member store: %w", err)
	}

	engine, err := membertree.NewEngine(store, membertree.Config{
		Logger:            logger,
		PositionPolicy:    policy,
		MaxAttempts:       cctx.Int("max-attempts"),
		DownlineCacheSize: cctx.Int("downline-cache-size"),
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return engine, store, nil
}

// adminLogger is used by the one-shot commands, which print results on stdout.
func adminLogger(cctx *cli.Context) *slog.Logger {
	return svcutil.ConfigLogger(cctx, os.Stderr)
}
