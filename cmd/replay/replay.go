package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/tuning"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/spf13/cobra"
)

var frameExtensions = []string{".jpg", ".jpeg", ".png"}

type replayOptions struct {
	streamID  string
	ollamaURL string
	model     string
	tasks     []string
	engine    string
	interval  time.Duration
	minGap    time.Duration
	tuning    string
	dryRun    bool
	jsonOut   bool
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <dir>",
		Short: "Replay a directory of frames through the change-detection pipeline",
		Long: "Replay feeds every image in a directory, in name order, through the frame\n" +
			"processor with an in-memory cache and prints the resulting events.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.streamID, "stream", "replay", "stream id attached to every frame")
	flags.StringVar(&opts.ollamaURL, "ollama-url", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
	flags.StringVar(&opts.model, "model", "llava", "vision model name")
	flags.StringSliceVar(&opts.tasks, "tasks", []string{string(vision.TaskDescribe)}, "analysis tasks")
	flags.StringVar(&opts.engine, "engine", "", "difference engine (defaults to the processor default)")
	flags.DurationVar(&opts.interval, "interval", time.Second, "simulated time between frames")
	flags.DurationVar(&opts.minGap, "min-gap", 0, "minimum simulated time between full analyses")
	flags.StringVar(&opts.tuning, "tuning", "", "YAML tuning overlay")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "answer analyses locally instead of calling a model")
	flags.BoolVar(&opts.jsonOut, "json", false, "print events as JSON lines")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline internals to stderr")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// listFrames returns the image files in dir sorted by name.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(frameExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// simClock reports the timestamp of the frame being replayed.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func buildService(opts replayOptions, clock *simClock, logger *slog.Logger) (*processor.Service, error) {
	overlay, err := tuning.Load(opts.tuning)
	if err != nil {
		return nil, err
	}

	calCfg := calibration.DefaultConfig()
	if err := overlay.ApplyCalibration(&calCfg); err != nil {
		return nil, err
	}
	cal, err := calibration.New(calCfg, logger, calibration.WithClock(clock.Now))
	if err != nil {
		return nil, err
	}

	cache, err := framecache.NewMemoryCache(framecache.Config{
		CacheID:      "replay",
		MaxSizeItems: 1000,
	}, logger, framecache.WithClock(clock.Now))
	if err != nil {
		return nil, err
	}

	var provider vision.Provider
	if opts.dryRun {
		provider = dryRunProvider{}
	} else {
		provider = vision.NewClient(vision.Config{
			OllamaURL: opts.ollamaURL,
			Model:     opts.model,
		})
	}

	cfg := processor.DefaultConfig()
	cfg.MinTimeBetweenFullAnalyses = opts.minGap
	if opts.engine != "" {
		cfg.DefaultDifferenceEngine = opts.engine
	}
	if len(opts.tasks) > 0 {
		cfg.DefaultTasks = vision.ParseTasks(opts.tasks)
		if len(cfg.DefaultTasks) == 0 {
			return nil, fmt.Errorf("no valid tasks in %v", opts.tasks)
		}
	}
	if err := overlay.ApplyProcessor(&cfg); err != nil {
		return nil, err
	}

	return processor.NewService(cfg, processor.Deps{
		Cache:      cache,
		Calibrator: cal,
		Provider:   provider,
		Logger:     logger,
		Clock:      clock.Now,
	})
}

func runReplay(ctx context.Context, out io.Writer, dir string, opts replayOptions) error {
	paths, err := listFrames(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no frames found in %s", dir)
	}

	clock := &simClock{now: time.Now()}
	svc, err := buildService(opts, clock, newLogger(os.Stderr, opts.verbose))
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	start := clock.Now()
	tally := map[processor.EventType]int{}
	enc := json.NewEncoder(out)

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		at := start.Add(time.Duration(i) * opts.interval)
		clock.Set(at)

		frame := &vision.Frame{
			StreamID:  opts.streamID,
			FrameID:   filepath.Base(path),
			Timestamp: at.UnixMilli(),
			Data:      data,
		}
		for ev := range svc.Process(ctx, frame) {
			tally[ev.Type]++
			if opts.jsonOut {
				if err := enc.Encode(ev); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(out, describeEvent(ev))
		}
	}

	if !opts.jsonOut {
		fmt.Fprintln(out, "")
		fmt.Fprintf(out, "Frames replayed: %d\n", len(paths))
		for _, t := range sortedTypes(tally) {
			fmt.Fprintf(out, "  %-28s %d\n", t, tally[t])
		}
	}
	return nil
}

func describeEvent(ev processor.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-28s", ev.FrameID, ev.Type)
	if ev.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", ev.Reason)
	}
	if ev.Trigger != "" {
		fmt.Fprintf(&b, " trigger=%s", ev.Trigger)
	}
	if ev.Score != nil {
		fmt.Fprintf(&b, " %s=%.4f significant=%t", ev.Score.Strategy, ev.Score.Value, ev.Score.Significant)
	}
	if ev.Result != nil && ev.Result.Description != "" {
		fmt.Fprintf(&b, " %q", ev.Result.Description)
	}
	if ev.Profile != nil {
		fmt.Fprintf(&b, " env=%s confidence=%.2f", ev.Profile.Type, ev.Profile.Confidence)
	}
	if ev.Error != nil {
		fmt.Fprintf(&b, " error=%s", ev.Error.Message)
	}
	return b.String()
}

func sortedTypes(tally map[processor.EventType]int) []processor.EventType {
	types := make([]processor.EventType, 0, len(tally))
	for t := range tally {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
