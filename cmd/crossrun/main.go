package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/crossrun/crossrun/internal/config"
	"github.com/crossrun/crossrun/internal/debugserver"
	"github.com/crossrun/crossrun/internal/env"
	"github.com/crossrun/crossrun/internal/model"
	"github.com/crossrun/crossrun/internal/runner"
	"github.com/crossrun/crossrun/internal/sched"
)

var (
	Version = "v0.1.0"
)

var (
	cratesFlag = &cli.StringFlag{
		Name:    "crates",
		Usage:   "Path to the JSON document listing crates and their checks",
		EnvVars: []string{"CROSSRUN_CRATES"},
	}
	rootFlag = &cli.StringFlag{
		Name:  "root",
		Usage: "Workspace directory commands run under (defaults to the current directory)",
	}
	nicheFlag = &cli.BoolFlag{
		Name:  "niche",
		Usage: "Also run checks flagged as niche",
	}
)

func main() {
	app := &cli.App{
		Name:    "crossrun",
		Usage:   "Run workspace checks across host, container, and device targets",
		Version: Version,
		Flags:   []cli.Flag{cratesFlag, rootFlag, nicheFlag},
		Commands: []*cli.Command{
			suiteCommand(runner.SuiteStyle, "Check source formatting across the workspace"),
			suiteCommand(runner.SuiteFunctionality, "Run unit and doc tests for every declared check"),
			suiteCommand(runner.SuiteHost, "Run the full example test suites on their targets"),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		}
		fmt.Fprintln(os.Stderr, "encountered a fatal error:", err)
		os.Exit(1)
	}
}

func suiteCommand(suite runner.Suite, usage string) *cli.Command {
	return &cli.Command{
		Name:   string(suite),
		Usage:  usage,
		Action: func(c *cli.Context) error { return runSuite(c, suite) },
	}
}

func runSuite(c *cli.Context, suite runner.Suite) error {
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	cratesPath := cfg.CratesPath
	if v := c.String(cratesFlag.Name); v != "" {
		cratesPath = v
	}
	crates, err := config.LoadCrates(cratesPath)
	if err != nil {
		return err
	}

	root := c.String(rootFlag.Name)
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return err
		}
	}

	runID := model.NewRunID()
	logger = logger.With("run_id", runID)
	logger.Info("starting", "suite", suite, "root", root, "crates", len(crates))

	pool := sched.NewPool(c.Context)
	defer pool.Shutdown()

	if cfg.MetricsAddr != "" {
		srv := debugserver.NewServer(cfg.MetricsAddr, crates, logger)
		pool.Spawn(srv.Serve)
	}

	r := &runner.Runner{
		Pool:         pool,
		Envs:         env.NewCache(pool, logger),
		Logger:       logger,
		Root:         root,
		Crates:       crates,
		IncludeNiche: c.Bool(nicheFlag.Name),
	}

	if err := r.Run(c.Context, suite); err != nil {
		return cli.Exit(fmt.Sprintf("%s suite failed: %v", suite, err), 1)
	}
	logger.Info("all checks passed", "suite", suite)
	return nil
}
