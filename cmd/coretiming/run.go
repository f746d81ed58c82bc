package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/sarchlab/coretiming/datarecording"
	"github.com/sarchlab/coretiming/devices"
	"github.com/sarchlab/coretiming/hooking"
	"github.com/sarchlab/coretiming/monitoring"
	"github.com/sarchlab/coretiming/system"
	"github.com/sarchlab/coretiming/wallclock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a timing session with the reference devices.",
	Long: `Run starts a timing session, attaches a frame ticker, a set of ` +
		`input pollers and an audio sample counter, and runs until the ` +
		`virtual duration has passed or the process is interrupted.`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.Bool("multicore", false, "Run the timer on its own goroutine.")
	f.Bool("idle-cpu", false, "Let the single-core CPU idle instead of spinning.")
	f.Duration("duration", 10*time.Second, "Virtual time to run, 0 for no limit.")
	f.Int("frame-rate", devices.DefaultFrameRate, "Frame ticker rate in Hz.")
	f.Duration("poll-period", 8*time.Millisecond, "Input polling period.")
	f.Uint64("sample-rate", 48000, "Audio sample rate in Hz.")
	f.Uint64("sample-batch", 480, "Audio samples produced per batch.")
	f.Bool("monitor", false, "Serve the HTTP monitor.")
	f.Int("monitor-port", 0, "Monitor port, 0 for a random one.")
	f.Bool("open", false, "Open the monitor in a browser.")
	f.String("record", "",
		"Record firings into <path>.sqlite3. Use - for a generated name.")
	f.String("clickhouse", "", "Record firings into ClickHouse at host:port.")
	f.String("clickhouse-db", "default", "ClickHouse database.")
	f.String("clickhouse-user", "default", "ClickHouse user.")
	f.String("clickhouse-password", "", "ClickHouse password.")
}

type runOptions struct {
	multicore   bool
	idleCPU     bool
	duration    time.Duration
	frameRate   int
	pollPeriod  time.Duration
	sampleRate  uint64
	sampleBatch uint64
	monitor     bool
	monitorPort int
	open        bool
	record      string
	clickhouse  datarecording.ClickHouseConfig
	logLevel    string
}

func parseRunOptions(cmd *cobra.Command) (runOptions, error) {
	f := cmd.Flags()
	o := runOptions{}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	o.multicore, err = f.GetBool("multicore")
	collect(err)
	o.idleCPU, err = f.GetBool("idle-cpu")
	collect(err)
	o.duration, err = f.GetDuration("duration")
	collect(err)
	o.frameRate, err = f.GetInt("frame-rate")
	collect(err)
	o.pollPeriod, err = f.GetDuration("poll-period")
	collect(err)
	o.sampleRate, err = f.GetUint64("sample-rate")
	collect(err)
	o.sampleBatch, err = f.GetUint64("sample-batch")
	collect(err)
	o.monitor, err = f.GetBool("monitor")
	collect(err)
	o.monitorPort, err = f.GetInt("monitor-port")
	collect(err)
	o.open, err = f.GetBool("open")
	collect(err)
	o.record, err = f.GetString("record")
	collect(err)
	o.logLevel, err = f.GetString("log-level")
	collect(err)

	addr, err := f.GetString("clickhouse")
	collect(err)
	o.clickhouse.Database, err = f.GetString("clickhouse-db")
	collect(err)
	o.clickhouse.Username, err = f.GetString("clickhouse-user")
	collect(err)
	o.clickhouse.Password, err = f.GetString("clickhouse-password")
	collect(err)

	if addr != "" {
		host, port, splitErr := net.SplitHostPort(addr)
		collect(splitErr)

		o.clickhouse.Host = host
		o.clickhouse.Port, err = strconv.Atoi(port)
		if splitErr == nil {
			collect(err)
		}
	}

	if o.pollPeriod <= 0 {
		collect(errors.New("poll-period must be positive"))
	}

	if o.sampleRate == 0 || o.sampleBatch == 0 {
		collect(errors.New("sample-rate and sample-batch must be positive"))
	}

	return o, errors.Join(errs...)
}

func runSession(cmd *cobra.Command, _ []string) error {
	opts, err := parseRunOptions(cmd)
	if err != nil {
		return err
	}

	logger, err := buildLogger(opts.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Named("main")

	var cpu system.CPU = system.BusyCPU{}
	if opts.idleCPU {
		cpu = system.IdleCPU{}
	}

	sys := system.MakeBuilder().
		WithMulticore(opts.multicore).
		WithLogger(logger).
		WithCPU(cpu).
		Build()
	ct := sys.Timing()

	counter := hooking.NewEventCountTracer(nil)
	lateness := hooking.NewLatenessTracer(nil)
	busy := hooking.NewCallbackTimeTracer(wallclock.NewSystemClock(), nil)
	ct.AcceptHook(counter)
	ct.AcceptHook(lateness)
	ct.AcceptHook(busy)

	attachDevices(sys, opts)

	closeRecorders, err := attachRecorders(sys, opts)
	if err != nil {
		return err
	}
	defer closeRecorders()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if opts.monitor {
		if err := startMonitor(ctx, g, sys, opts, logger); err != nil {
			return err
		}
	}

	g.Go(func() error {
		defer cancel()

		err := sys.Run(ctx, opts.duration)
		if errors.Is(err, context.Canceled) {
			log.Info("session interrupted")
			return nil
		}

		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	for _, name := range counter.Names() {
		log.Info("event summary",
			zap.String("event", name),
			zap.Uint64("fired", counter.CountOf(name)),
			zap.Duration("busy", busy.BusyTime(name)))
	}

	log.Info("session finished",
		zap.Int64("virtual_us", ct.GetGlobalTimeUs()),
		zap.Uint64("cntpct", ct.GetClockTicks()),
		zap.Uint64("firings", lateness.TotalCount()),
		zap.Duration("average_lateness", lateness.AverageLateness()),
		zap.Duration("worst_lateness", lateness.WorstLateness()))

	return nil
}

func attachDevices(sys *system.System, opts runOptions) {
	ct := sys.Timing()

	sys.Attach("cheats", devices.NewFrameTicker(ct, "cheats", opts.frameRate, nil))

	pollers := devices.NewInputPollers(ct)
	pollers.Add("pad", opts.pollPeriod, nil)
	pollers.Add("touch", 2*opts.pollPeriod, nil)
	sys.Attach("hid", pollers)

	sys.Attach("audio", devices.NewSampleCounter(
		ct, "audio", opts.sampleRate, opts.sampleBatch, nil))
}

func attachRecorders(sys *system.System, opts runOptions) (func(), error) {
	var recorders []datarecording.DataRecorder

	if opts.record != "" {
		path := opts.record
		if path == "-" {
			path = ""
		}

		recorders = append(recorders, datarecording.New(path))
	}

	if opts.clickhouse.Host != "" {
		r, err := datarecording.NewClickHouse(opts.clickhouse)
		if err != nil {
			return nil, err
		}

		recorders = append(recorders, r)
	}

	execs := make([]*datarecording.ExecRecorder, 0, len(recorders))
	for _, r := range recorders {
		exec := datarecording.NewExecRecorder(r)
		exec.Start()
		exec.Note("Multicore", strconv.FormatBool(opts.multicore))
		exec.Note("Duration", opts.duration.String())
		execs = append(execs, exec)

		sys.Timing().AcceptHook(
			datarecording.NewEventRecorder(r, wallclock.NewSystemClock(), nil))
	}

	return func() {
		for i, r := range recorders {
			execs[i].End()

			if err := r.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "closing recorder: %v\n", err)
			}
		}
	}, nil
}

func startMonitor(
	ctx context.Context,
	g *errgroup.Group,
	sys *system.System,
	opts runOptions,
	logger *zap.Logger,
) error {
	m := monitoring.NewMonitor().
		WithLogger(logger).
		WithPortNumber(opts.monitorPort)
	m.RegisterTimeline(sys.Timing())

	url, err := m.Listen()
	if err != nil {
		return err
	}

	if opts.open {
		if err := browser.OpenURL(url); err != nil {
			logger.Warn("failed to open browser", zap.Error(err))
		}
	}

	g.Go(func() error { return m.Serve(ctx) })

	if opts.duration > 0 {
		bar := m.CreateProgressBar("virtual time (ms)",
			uint64(opts.duration/time.Millisecond))

		g.Go(func() error {
			defer m.CompleteProgressBar(bar)
			return trackProgress(ctx, sys, bar)
		})
	}

	return nil
}

func trackProgress(
	ctx context.Context,
	sys *system.System,
	bar *monitoring.ProgressBar,
) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			bar.SetFinished(uint64(sys.Timing().GetGlobalTimeUs() / 1000))
		}
	}
}
