package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fetchmcp/internal/cache"
	"fetchmcp/internal/fetcher"
	"fetchmcp/internal/mcpserver"
	"fetchmcp/internal/platform/config"
	"fetchmcp/internal/platform/logger"
	"fetchmcp/internal/resolver"
	"fetchmcp/internal/taskmanager"
	"fetchmcp/internal/transform"

	"github.com/spf13/pflag"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		stdio       bool
		showHelp    bool
		showVersion bool
	)
	pflag.BoolVar(&stdio, "stdio", false, "speak JSON-RPC over stdin/stdout instead of binding an HTTP listener")
	pflag.BoolVarP(&showHelp, "help", "h", false, "print usage and exit")
	pflag.BoolVarP(&showVersion, "version", "v", false, "print version and exit")
	pflag.Parse()

	if showHelp {
		fmt.Fprintln(os.Stderr, "fetchmcp-server [--stdio] [--help] [--version]")
		pflag.PrintDefaults()
		return 0
	}
	if showVersion {
		fmt.Fprintln(os.Stderr, "fetchmcp-server "+version)
		return 0
	}

	l := logger.Get()

	fetchCfg := config.New().Prefix("FETCH_")
	timeout := fetchCfg.MayDurationMs("TIMEOUT_MS", 30*time.Second)
	maxBytes := int64(fetchCfg.MayInt("MAX_BYTES", 10<<20))

	resolverCfg := config.New().Prefix("RESOLVER_")
	order := resolver.Order(resolverCfg.MayString("ORDER", string(resolver.OrderVerbatim)))

	cacheCfg := config.New().Prefix("CACHE_")
	poolCfg := config.New().Prefix("POOL_")
	taskCfg := config.New().Prefix("TASKS_")

	client := fetcher.New(fetcher.Options{
		Timeout:  timeout,
		MaxBytes: maxBytes,
		Resolver: resolver.New(order),
	})

	store := cache.NewStore(cache.Options{
		Enabled:    cacheCfg.MayBool("ENABLED", true),
		TTL:        cacheCfg.MayDurationMs("TTL_MS", 5*time.Minute),
		MaxEntries: cacheCfg.MayInt("MAX_ENTRIES", 1000),
	})
	defer store.Close()

	pool := transform.New(transform.Options{
		Workers: poolCfg.MayInt("WORKERS", 0),
		Timeout: poolCfg.MayDurationMs("TIMEOUT_MS", 30*time.Second),
	})
	defer pool.Close()

	tasks := taskmanager.New(taskmanager.Options{
		MaxTotal:    taskCfg.MayInt("MAX_TOTAL", 10000),
		MaxPerOwner: taskCfg.MayInt("MAX_PER_OWNER", 100),
		DefaultTTL:  taskCfg.MayDurationMs("DEFAULT_TTL_MS", 15*time.Minute),
	})

	srv := mcpserver.New(mcpserver.FromEnv(), mcpserver.Deps{
		Cache:     store,
		Transform: pool,
		Fetcher:   client,
		Tasks:     tasks,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if stdio {
		if err := runStdio(ctx, srv); err != nil {
			l.Error().Err(err).Msg("stdio transport stopped")
			return 1
		}
		return 0
	}

	if err := srv.Run(ctx); err != nil {
		l.Error().Err(err).Msg("http server stopped")
		return 1
	}
	return 0
}
