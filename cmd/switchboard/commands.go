package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/doctor"
	"github.com/mattjoyce/switchboard/internal/funcspec"
	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/loader"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/progress"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/service"
	"github.com/mattjoyce/switchboard/internal/storage"
	"github.com/mattjoyce/switchboard/internal/synth"
	"github.com/mattjoyce/switchboard/internal/tui"
	"github.com/mattjoyce/switchboard/internal/tui/watch"
)

// closeTimeout bounds shutdown on top of runtime.drain_timeout.
const closeTimeout = 30 * time.Second

// loadConfig resolves --config, falling back to discovery and then defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return config.Defaults(), nil
		}
		path = discovered
	}
	return config.Load(path)
}

func closeService(svc *service.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	var out io.Writer = os.Stdout
	if cfg.Service.LogFile != "" {
		file := log.RotatingFile(cfg.Service.LogFile, 0)
		defer file.Close()
		out = io.MultiWriter(os.Stdout, file)
	}
	log.SetupTo(cfg.Service.LogLevel, out)
	log.Info("switchboard starting", "version", currentVersionInfo().Version, "config", cfg.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, cfg, service.Options{})
	if err != nil {
		log.Error("failed to start", "error", err)
		return 1
	}
	defer closeService(svc)

	// A broken document at startup leaves the service up and reporting
	// 503 until the next successful reload.
	if _, err := svc.Reload(ctx); err != nil {
		log.Error("initial load failed", "error", err)
	}

	if err := svc.Serve(ctx); err != nil {
		log.Error("service stopped with error", "error", err)
		return 1
	}
	log.Info("switchboard stopped")
	return 0
}

type loadOutcome struct {
	version *loader.Version
	err     error
}

func runLoad(args []string) int {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	useTUI := fs.Bool("tui", false, "Render progress as a terminal progress bar")
	jsonOut := fs.Bool("json", false, "Print progress events as JSON lines")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupTo(cfg.Service.LogLevel, io.Discard)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, cfg, service.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeService(svc)

	var outcome loadOutcome
	if *useTUI {
		feed := tui.NewFeed()
		done := make(chan loadOutcome, 1)
		go func() {
			v, err := svc.ReloadWith(ctx, feed)
			feed.Close()
			done <- loadOutcome{version: v, err: err}
		}()
		model, err := tui.RunLoad(ctx, "switchboard load "+cfg.Functions.Path, feed, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
		outcome = <-done
		if model.Interrupted() {
			fmt.Fprintln(os.Stderr, "load display interrupted")
		}
	} else {
		sink := progress.SinkFunc(func(ev progress.Event) {
			if *jsonOut {
				_ = json.NewEncoder(os.Stdout).Encode(ev)
				return
			}
			if ev.Failed {
				fmt.Printf("[%3d%%] failed: %s\n", ev.Percent, ev.Err)
				return
			}
			fmt.Printf("[%3d%%] %s\n", ev.Percent, ev.Label)
		})
		v, err := svc.ReloadWith(ctx, sink)
		outcome = loadOutcome{version: v, err: err}
	}

	if outcome.err != nil {
		fmt.Fprintf(os.Stderr, "Load failed: %v\n", outcome.err)
		return 1
	}
	if !*jsonOut {
		fmt.Printf("Loaded version %d (%s): %d operations\n",
			outcome.version.ID(), outcome.version.Hash(), len(outcome.version.Operations()))
	}
	return 0
}

func runCall(args []string) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: switchboard call [--config PATH] <operation> [args...]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupTo(cfg.Service.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, cfg, service.Options{
		Dialog: &capability.ConsoleDialog{In: os.Stdin, Out: os.Stderr},
		Sink:   progress.Nop,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeService(svc)

	if _, err := svc.Reload(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Load failed: %v\n", err)
		return 1
	}

	res, _ := svc.Dispatch(ctx, fs.Arg(0), fs.Args()[1:])
	if err := printJSON(os.Stdout, res); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
		return 1
	}
	if !res.OK {
		return 1
	}
	return 0
}

func runStdio(args []string) int {
	fs := flag.NewFlagSet("stdio", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	// stdout carries responses.
	log.SetupTo(cfg.Service.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, cfg, service.Options{})
	if err != nil {
		log.Error("failed to start", "error", err)
		return 1
	}
	defer closeService(svc)

	if _, err := svc.Reload(ctx); err != nil {
		log.Error("initial load failed", "error", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- protocol.Serve(ctx, os.Stdin, os.Stdout, svc, log.WithComponent("stdio"))
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error("stdio session failed", "error", err)
			return 1
		}
	case <-svc.Quit():
		log.Info("operation requested quit")
	case <-ctx.Done():
	}
	return 0
}

func runOps(args []string) int {
	fs := flag.NewFlagSet("ops", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	jsonOut := fs.Bool("json", false, "Output operations as JSON")
	source := fs.Bool("source", false, "Print the synthesized handler source instead")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	specs, err := funcspec.LoadFile(cfg.Functions.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *source {
		unit, err := synth.Synthesize(specs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(unit.Source)
		return 0
	}

	if *jsonOut {
		if err := printJSON(os.Stdout, specs); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		return 0
	}

	for _, spec := range specs {
		fmt.Printf("%s(%s) %s\n", spec.Name, strings.Join(spec.Parameters, ", "), spec.ReturnType)
		if spec.Description != "" {
			fmt.Printf("    %s\n", spec.Description)
		}
	}
	return 0
}

type historyReport struct {
	Loads []journal.LoadEntry `json:"loads"`
	Calls []journal.CallStat  `json:"calls"`
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	limit := fs.Int("limit", 10, "Number of load attempts to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	store := journal.NewStore(db)
	var report historyReport
	if report.Loads, err = store.RecentLoads(ctx, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if report.Calls, err = store.CallStats(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		if err := printJSON(os.Stdout, report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Println("Loads:")
	if len(report.Loads) == 0 {
		fmt.Println("  (none)")
	}
	for _, l := range report.Loads {
		line := fmt.Sprintf("  %s  v%-4d %-7s %3d ops  %dms", l.At.Local().Format(time.DateTime), l.Version, l.Outcome, l.Operations, l.DurationMS)
		if l.Error != "" {
			line += "  " + l.Error
		}
		fmt.Println(line)
	}
	fmt.Println("Calls:")
	if len(report.Calls) == 0 {
		fmt.Println("  (none)")
	}
	for _, c := range report.Calls {
		fmt.Printf("  %-24s %-8s %d\n", c.Operation, c.Outcome, c.Count)
	}
	return 0
}

func runHash(args []string) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: switchboard hash <file>")
		return 1
	}

	sum, err := config.ComputeBlake3Hash(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(sum)
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		if *jsonOut {
			out, _ := doctor.FormatJSON(&doctor.Result{
				Errors: []doctor.Issue{{Category: "config", Message: err.Error()}},
			})
			fmt.Println(out)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}
		return 1
	}
	log.SetupTo(cfg.Service.LogLevel, io.Discard)

	result := doctor.New(cfg).Validate(context.Background())
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "switchboard API URL")
	apiKey := fs.String("api-key", os.Getenv("SWITCHBOARD_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SWITCHBOARD_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
