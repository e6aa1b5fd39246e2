package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/chaintrace"
	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/chain/chaintest"
	"github.com/DQYXACML/chaintrace/common/cliapp"
	"github.com/DQYXACML/chaintrace/config"
	"github.com/DQYXACML/chaintrace/database"
	"github.com/DQYXACML/chaintrace/flags"
	"github.com/DQYXACML/chaintrace/trace"
)

var (
	SeedFlag = &cli.StringFlag{
		Name:     "seed",
		Usage:    "Transaction hash or address to start from",
		Required: true,
	}
	ChainFlag = &cli.StringFlag{
		Name:  "chain",
		Usage: "Chain of the seed, defaults to the fixture chain or ethereum",
	}
	DepthFlag = &cli.IntFlag{
		Name:  "depth",
		Value: 2,
		Usage: "Depth of the trace",
	}
	FixtureFlag = &cli.StringFlag{
		Name:  "fixture",
		Usage: "Trace against a YAML fixture instead of live chains",
	}
)

// parseLogLevel accepts the geth level names, including trace and crit,
// which slog does not know.
func parseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "trace":
		return log.LevelTrace, nil
	case "crit":
		return log.LevelCrit, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

func setupLogging(ctx *cli.Context) error {
	lvl, err := parseLogLevel(ctx.String(flags.LogLevelFlag.Name))
	if err != nil {
		return err
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	return nil
}

func runChainTrace(ctx *cli.Context) (cliapp.Lifecycle, error) {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return nil, err
	}
	return chaintrace.NewChainTrace(ctx.Context, &cfg)
}

func runTrace(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}

	chainName := ctx.String(ChainFlag.Name)
	var registry *chain.Registry
	if path := ctx.String(FixtureFlag.Name); path != "" {
		src, fixture, err := chaintest.LoadFile(path)
		if err != nil {
			return err
		}
		if chainName == "" {
			chainName = fixture.Chain
		}
		registry = chain.NewRegistry()
		registry.Register(fixture.Chain, src)
	} else {
		var closeClients func()
		registry, closeClients, err = chaintrace.DialRegistry(ctx.Context, cfg.Chains)
		if err != nil {
			return err
		}
		defer closeClients()
	}
	if chainName == "" {
		chainName = "ethereum"
	}

	orchestrator := chaintrace.NewOrchestrator(&cfg, registry, nil)
	result, err := orchestrator.Trace(ctx.Context, trace.Request{
		Chain:    chainName,
		Seed:     ctx.String(SeedFlag.Name),
		MaxDepth: ctx.Int(DepthFlag.Name),
	})
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(out))
	return err
}

func runMigrations(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}
	db, err := database.NewDB(ctx.Context, cfg.MasterDB)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("fail to close database", "err", err)
		}
	}()
	dir := ctx.String(flags.MigrationsFlag.Name)
	if err := db.ExecuteSQLMigration(dir); err != nil {
		return err
	}
	log.Info("migrations applied", "dir", dir)
	return nil
}

func NewCli() *cli.App {
	myFlags := flags.Flags
	return &cli.App{
		Name:                 "chaintrace",
		Version:              "v0.1.0",
		Description:          "Traces fund flows across chains and scores them for risk",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:        "run",
				Description: "Runs the trace job workers",
				Flags:       myFlags,
				Before:      setupLogging,
				Action:      cliapp.LifecycleCmd(runChainTrace),
			},
			{
				Name:        "trace",
				Description: "Runs one trace and prints the result as JSON",
				Flags:       append([]cli.Flag{SeedFlag, ChainFlag, DepthFlag, FixtureFlag}, myFlags...),
				Before:      setupLogging,
				Action:      runTrace,
			},
			{
				Name:        "migrate",
				Description: "Runs the database migrations",
				Flags:       append([]cli.Flag{flags.MigrationsFlag}, myFlags...),
				Before:      setupLogging,
				Action:      runMigrations,
			},
			{
				Name:        "version",
				Description: "print version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}
