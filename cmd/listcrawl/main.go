package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/go-scripts/listcrawl/internal/config"
	"github.com/go-scripts/listcrawl/internal/extract"
	"github.com/go-scripts/listcrawl/internal/fetch"
	"github.com/go-scripts/listcrawl/internal/pipeline"
	"github.com/go-scripts/listcrawl/internal/progress"
	"github.com/go-scripts/listcrawl/internal/sink"
)

// CLI flags structure
type CLIFlags struct {
	ConfigFile  string `help:"Path to crawl configuration file" default:"config.yaml" short:"c"`
	EnvFile     string `help:"Path to .env file with credentials" default:".env"`
	OutputDir   string `help:"Directory for output files" default:"." short:"o"`
	Format      string `help:"Output format" enum:"csv,json" default:"csv" short:"f"`
	Target      string `help:"Run only the named target"`
	MaxPages    int    `help:"Override the per-target page cap"`
	Static      bool   `help:"Use the plain HTTP fetcher instead of the headless browser"`
	Headful     bool   `help:"Run the browser with a visible window"`
	SharedDedup bool   `help:"Share one dedup key set across all targets"`
	NoProgress  bool   `help:"Disable the terminal progress display"`
	Debug       bool   `help:"Enable debug logging" default:"false"`
}

func main() {
	var flags CLIFlags
	kong.Parse(&flags,
		kong.Name("listcrawl"),
		kong.Description("Crawl paginated listing sites and extract structured records with an LLM."),
	)

	if flags.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := run(flags); err != nil {
		log.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run(flags CLIFlags) error {
	if err := config.LoadEnv(flags.EnvFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	targets := cfg.Targets
	if flags.Target != "" {
		targets = nil
		for _, t := range cfg.Targets {
			if t.Name == flags.Target {
				targets = append(targets, t)
			}
		}
		if len(targets) == 0 {
			return fmt.Errorf("no target named %q in %s", flags.Target, flags.ConfigFile)
		}
	}
	if flags.MaxPages > 0 {
		for i := range targets {
			targets[i].MaxPages = flags.MaxPages
		}
	}

	fetcher, cleanup, err := buildFetcher(flags, targets)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var shared *pipeline.DedupTracker
	if flags.SharedDedup {
		shared = pipeline.NewDedupTracker()
	}

	var orchestrators []*pipeline.Orchestrator
	var sinks []interface{ Close() error }
	var trackers []*progress.Tracker
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				log.Error("Failed to close sink", "error", err)
			}
		}
		for _, t := range trackers {
			t.Stop()
		}
	}()

	for _, target := range targets {
		apiKey, err := target.APIKey()
		if err != nil {
			return fmt.Errorf("target %q: missing credentials: %w", target.Name, err)
		}

		strategy, err := extract.NewLLMStrategy(target.LLM, apiKey)
		if err != nil {
			return fmt.Errorf("target %q: %w", target.Name, err)
		}

		out, closer, err := buildSink(flags, target)
		if err != nil {
			return fmt.Errorf("target %q: %w", target.Name, err)
		}
		sinks = append(sinks, closer)

		// The spinner/bar display assumes it owns the terminal line, so
		// it is only attached when a single target runs; concurrent
		// targets report through the structured log instead.
		var pageTracker pipeline.PageTracker
		if !flags.NoProgress && len(targets) == 1 {
			t := progress.New(target.MaxPages)
			trackers = append(trackers, t)
			pageTracker = t
		}

		tracker := shared // nil means the orchestrator gets its own
		orchestrators = append(orchestrators,
			pipeline.New(target, fetcher, strategy, out, tracker, pageTracker))
	}

	outcomes, runErr := pipeline.RunAll(ctx, orchestrators)
	for _, t := range trackers {
		t.Stop()
	}

	for _, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		log.Info("Crawl summary",
			"target", outcome.Target,
			"pages_visited", outcome.PagesVisited,
			"pages_failed", outcome.PagesFailed,
			"candidates", outcome.CandidatesSeen,
			"accepted", outcome.AcceptedCount(),
			"rejected_incomplete", outcome.RejectedIncomplete,
			"rejected_duplicate", outcome.RejectedDuplicate,
			"extraction_failures", outcome.ExtractionFailures)
		if outcome.Fatal != nil {
			log.Error("Crawl stopped early", "target", outcome.Target, "error", outcome.Fatal)
		}
	}

	return runErr
}

// buildFetcher picks the fetcher implementation. The browser fetcher uses
// the longest fetch timeout any target asks for; per-page budgets are
// enforced by the orchestrator's context.
func buildFetcher(flags CLIFlags, targets []config.Target) (fetch.Fetcher, func(), error) {
	timeout := config.DefaultFetchTimeout
	for _, t := range targets {
		if t.FetchTimeout.Std() > timeout {
			timeout = t.FetchTimeout.Std()
		}
	}

	if flags.Static {
		return fetch.NewStaticFetcher(timeout, "listcrawl/1.0"), func() {}, nil
	}

	browser, err := fetch.NewBrowserFetcher(fetch.BrowserConfig{
		Timeout: timeout,
		Headful: flags.Headful,
	})
	if err != nil {
		return nil, nil, err
	}
	return browser, browser.Close, nil
}

func buildSink(flags CLIFlags, target config.Target) (pipeline.Sink, interface{ Close() error }, error) {
	name := strings.ReplaceAll(strings.ToLower(target.Name), " ", "_")

	switch flags.Format {
	case "json":
		path := filepath.Join(flags.OutputDir, name+".jsonl")
		s, err := sink.NewJSONSink(path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Writing records", "target", target.Name, "path", path)
		return s, s, nil
	default:
		path := filepath.Join(flags.OutputDir, name+".csv")
		s, err := sink.NewCSVSink(path, target.FieldNames())
		if err != nil {
			return nil, nil, err
		}
		log.Info("Writing records", "target", target.Name, "path", path)
		return s, s, nil
	}
}
