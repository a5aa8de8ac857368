package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"SignalGate/internal/di"
	"SignalGate/internal/domain/models"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/config"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/util"
)

const exitSetup = 2

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <run|serve> [flags]\n", os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitSetup)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "serve":
		os.Exit(serveCmd(os.Args[2:]))
	default:
		usage()
		os.Exit(exitSetup)
	}
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "config file path")
	symbols := fs.String("symbols", "", "comma separated symbols (default: run.symbols)")
	dryRun := fs.String("dry-run", "", "0|1 (default: run.dry_run)")
	workers := fs.Int("workers", 0, "worker count (default: run.workers)")
	tf := fs.String("tf", "", "restrict execution to one timeframe")
	autoSwitch := fs.Bool("auto-switch-invalid", false, "switch symbols off after repeated INVALID runs")
	switchFor := fs.String("switch-duration", "", "auto-switch duration, e.g. 12h, 1d, 1w")
	profile := fs.String("profile", "", "rule profile (default: run.profile)")
	runID := fs.String("run-id", "", "explicit run id")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return exitSetup
	}

	req := usecase.RunRequest{
		RunID:             *runID,
		Profile:           *profile,
		Symbols:           cfg.Run.Symbols,
		DryRun:            cfg.Run.DryRun,
		Workers:           *workers,
		Timeframe:         models.Timeframe(*tf),
		AutoSwitchInvalid: *autoSwitch || cfg.Run.AutoSwitchInvalid,
	}
	if *symbols != "" {
		req.Symbols = util.SplitSymbols(*symbols)
	}
	if *dryRun != "" {
		if req.DryRun, err = strconv.ParseBool(*dryRun); err != nil {
			log.Printf("invalid --dry-run %q: %v", *dryRun, err)
			return exitSetup
		}
	}
	if *switchFor != "" {
		if req.SwitchDuration, err = util.ParseDuration(*switchFor); err != nil {
			log.Printf("invalid --switch-duration: %v", err)
			return exitSetup
		}
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		return exitSetup
	}
	defer app.Close()

	summary, err := app.RunOnce(req)
	if err != nil {
		app.Logger().Error("run could not start", logger.Error(err))
		return exitSetup
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		app.Logger().Warn("write summary", logger.Error(err))
	}
	return usecase.ExitCode(summary)
}

func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "config file path")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return exitSetup
	}
	log.Printf("env=%s profile=%s sink=%s", cfg.Environment, cfg.Run.Profile, cfg.Sink.Type)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		return exitSetup
	}
	if err := app.Serve(); err != nil {
		app.Logger().Error("app error", logger.Error(err))
		return 1
	}
	return 0
}
