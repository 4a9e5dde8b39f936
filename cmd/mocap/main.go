package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/debug"
	"github.com/banshee-data/mocap/internal/mocap/gesture"
	"github.com/banshee-data/mocap/internal/mocap/monitor"
	"github.com/banshee-data/mocap/internal/mocap/pipeline"
	"github.com/banshee-data/mocap/internal/mocap/retarget"
	"github.com/banshee-data/mocap/internal/mocap/sensor"
	"github.com/banshee-data/mocap/internal/mocap/storage/sqlite"
	"github.com/banshee-data/mocap/internal/monitoring"
	"github.com/banshee-data/mocap/internal/timeutil"
	"github.com/banshee-data/mocap/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON tuning config (defaults apply when empty)")
	input       = flag.String("input", "", "Relay stream file to replay, or - for stdin")
	synthetic   = flag.Int("synthetic", 0, "Generate this many synthetic bodies instead of reading a stream")
	seed        = flag.Int64("seed", 1, "Random seed for synthetic jitter")
	dbFile      = flag.String("db", "mocap.db", "Path to the SQLite event database (empty disables recording)")
	rigFile     = flag.String("rig", "", "Path to a YAML avatar rig (defaults to the built-in humanoid)")
	plotDir     = flag.String("plot-dir", "", "Write filter trace plots under this directory on exit")
	debugFrames = flag.Bool("debug", false, "Collect per-tick debug records")
	verbose     = flag.Bool("v", false, "Enable the diagnostic log stream")
	trace       = flag.Bool("trace", false, "Enable the per-tick trace log stream")
	logInterval = flag.Int("log-interval", 5, "Statistics logging interval in seconds")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// gestureLogger writes gesture transitions to the log streams.
type gestureLogger struct{}

func (gestureLogger) GestureInProgress(e gesture.Event) {
	monitoring.Tracef("slot %d %s %.2f", e.Slot, e.Name, e.Progress)
}

func (gestureLogger) GestureCompleted(e gesture.Event) bool {
	monitoring.Opsf("slot %d (body %d) completed %s", e.Slot, e.UserID, e.Name)
	return false
}

func (gestureLogger) GestureCancelled(e gesture.Event) {
	monitoring.Diagf("slot %d (body %d) cancelled %s", e.Slot, e.UserID, e.Name)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	writers := monitoring.LogWriters{Ops: os.Stderr}
	if *verbose {
		writers.Diag = os.Stderr
	}
	if *trace {
		writers.Trace = os.Stderr
	}
	monitoring.SetLogWriters(writers)

	tuning := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}
	cfg, err := pipeline.ConfigFromTuning(tuning)
	if err != nil {
		log.Fatalf("Invalid tuning config: %v", err)
	}

	rig := retarget.DefaultRig()
	if *rigFile != "" {
		rig, err = retarget.LoadRig(*rigFile)
		if err != nil {
			log.Fatalf("Failed to load rig: %v", err)
		}
	}

	clock := timeutil.RealClock{}
	var (
		src    sensor.Source
		source string
	)
	switch {
	case *synthetic > 0:
		src = sensor.NewSyntheticGenerator(*synthetic, clock, *seed)
		source = "synthetic"
	case *input == "-":
		src = sensor.NewStreamSource(os.Stdin, clock.Now())
		source = "stdin"
	case *input != "":
		f, err := os.Open(*input)
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer f.Close()
		src = sensor.NewStreamSource(f, clock.Now())
		source = *input
	default:
		log.Fatal("Either -input or -synthetic is required")
	}

	opts := pipeline.Options{Listeners: []gesture.Listener{gestureLogger{}}}
	if *debugFrames {
		opts.Debug = debug.NewCollector()
		opts.Debug.SetEnabled(true)
	}

	var store *sqlite.Store
	if *dbFile != "" {
		store, err = sqlite.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open event database: %v", err)
		}
		defer store.Close()
		if _, err := store.StartSession(source, clock.Now()); err != nil {
			log.Fatalf("Failed to start session: %v", err)
		}
		opts.Sink = store
	}

	manager, err := pipeline.NewManager(cfg, opts)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	for slot := 0; slot < cfg.Users.MaxUsers; slot++ {
		r, err := retarget.New(rig, cfg.Retarget)
		if err != nil {
			log.Fatalf("Failed to create avatar: %v", err)
		}
		if err := manager.RegisterAvatar(slot, fmt.Sprintf("%s-%d", rig.Name, slot), r); err != nil {
			log.Fatalf("Failed to register avatar: %v", err)
		}
	}

	var plotter *monitor.FilterPlotter
	if *plotDir != "" {
		plotter = monitor.NewFilterPlotter()
		if err := plotter.Start(monitor.MakePlotOutputDir(*plotDir, source, clock.Now())); err != nil {
			log.Fatalf("Failed to start plotter: %v", err)
		}
	}

	runner := pipeline.NewRunner(manager, src, clock, cfg.TickInterval)
	runner.OnSnapshot = func(s *pipeline.Snapshot) {
		if plotter != nil {
			plotter.Sample(s)
		}
		if s.Debug != nil && monitoring.TraceEnabled() {
			for _, a := range s.Debug.Admissions {
				monitoring.Tracef("tick %d body %d slot %d %s: %s", s.Tick, a.BodyID, a.Slot, a.Action, a.Reason)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logStats(ctx, manager, time.Duration(*logInterval)*time.Second)
	}()

	monitoring.Opsf("%s", version.String())
	monitoring.Opsf("pipeline running (source %s, %d slots, tick %v)", source, cfg.Users.MaxUsers, cfg.TickInterval)
	runErr := runner.Run(ctx)
	stop()
	wg.Wait()

	if runErr != nil {
		monitoring.Opsf("pipeline stopped: %v", runErr)
	}
	if store != nil {
		if err := store.EndSession(clock.Now()); err != nil {
			monitoring.Opsf("failed to end session: %v", err)
		}
	}
	if plotter != nil {
		plotter.Stop()
		n, err := plotter.GeneratePlots()
		if err != nil {
			monitoring.Opsf("failed to generate plots: %v", err)
		}
		monitoring.Opsf("wrote %d plots to %s", n, plotter.OutputDir())
	}
	monitoring.Opsf("pipeline finished after %d ticks", runner.Ticks())
}

func logStats(ctx context.Context, m *pipeline.Manager, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := m.Snapshot()
			present := 0
			for _, u := range s.Users {
				if u.Present {
					present++
				}
			}
			monitoring.Opsf("tick %d: %d users (%d present)", s.Tick, len(s.Users), present)
		}
	}
}
