package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kabbura/asymFreeRTOS/config"
	"github.com/Kabbura/asymFreeRTOS/core"
	"github.com/Kabbura/asymFreeRTOS/host/serial"
	"github.com/Kabbura/asymFreeRTOS/protocol"
	"github.com/Kabbura/asymFreeRTOS/runner"
	"github.com/Kabbura/asymFreeRTOS/shmem"
)

var (
	configPath  = flag.String("config", "", "JSON configuration file")
	mode        = flag.String("mode", "", "sim, requester or server")
	regionPath  = flag.String("region", "", "Shared region file (e.g. /dev/shm/asym)")
	tasks       = flag.Int("tasks", 0, "Number of requesting tasks")
	console     = flag.String("console", "", "Serial device for task output")
	timeout     = flag.Duration("timeout", -1, "Per-request timeout (0 waits forever)")
	duration    = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	reset       = flag.Bool("reset", false, "Reinitialize a region left over from an earlier run")
	interactive = flag.Bool("interactive", false, "Read submit commands from stdin instead of running tasks")
	debug       = flag.Bool("debug", false, "Enable debug output and dump the trace on exit")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup, including the
// trace dump, happens before exit
func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	core.SetDebugWriter(func(s string) { fmt.Fprintln(os.Stderr, s) })
	core.SetDebugEnabled(cfg.Debug)
	if cfg.Debug {
		core.InitAsyncDebug()
		defer core.DumpTrace()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	switch cfg.Mode {
	case config.ModeSim:
		err = runSim(ctx, cfg)
	case config.ModeRequester:
		err = runRequester(ctx, cfg)
	case config.ModeServer:
		err = runServer(ctx, cfg)
	}

	if err != nil && !isShutdown(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// isShutdown reports whether err only records that the run was stopped
func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig() (*config.Config, error) {
	data := []byte("{}")
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		data = b
	}

	cfg, err := config.LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}
	if *regionPath != "" {
		cfg.Region = *regionPath
	}
	if *tasks != 0 {
		cfg.Tasks = *tasks
	}
	if *console != "" {
		cfg.Console = *console
	}
	if *timeout >= 0 {
		cfg.SubmitTimeoutMS = int(*timeout / time.Millisecond)
	}
	if *debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

func openRegion(cfg *config.Config) (*shmem.Region, error) {
	if cfg.Region == "" {
		return shmem.New(protocol.RegionSize), nil
	}
	return shmem.Map(cfg.Region, protocol.RegionSize)
}

func openConsole(cfg *config.Config) (io.WriteCloser, error) {
	if cfg.Console == "" {
		return nopCloser{os.Stdout}, nil
	}
	sc := serial.DefaultConfig(cfg.Console)
	sc.Baud = cfg.ConsoleBaud
	return serial.Open(sc)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// runSim runs both cores in this process over one in-memory region
func runSim(ctx context.Context, cfg *config.Config) error {
	region, err := openRegion(cfg)
	if err != nil {
		return err
	}
	defer region.Close()

	table, err := core.NewTable(region)
	if err != nil {
		return err
	}
	if *reset {
		table.Reset()
	}
	if err := table.Init(); err != nil {
		return err
	}

	fmt.Println("Server core started")
	return runCores(ctx,
		func(ctx context.Context) error { return serve(ctx, cfg, table) },
		func(ctx context.Context) error { return request(ctx, cfg, table) },
	)
}

var errServerStopped = errors.New("server core stopped")

// runCores runs the server core in the background while the requester runs
// in the foreground. A server that fails or returns early cancels the
// requester, and its error takes precedence over the requester's.
func runCores(ctx context.Context, server, requester func(context.Context) error) error {
	serverCtx, stopServer := context.WithCancel(ctx)
	requestCtx, stopRequester := context.WithCancel(ctx)
	defer stopRequester()

	serverErr := make(chan error, 1)
	go func() {
		err := server(serverCtx)
		if serverCtx.Err() == nil {
			if err == nil {
				err = errServerStopped
			}
			core.DebugPrintln("server core failed: " + err.Error())
			stopRequester()
		}
		serverErr <- err
	}()

	err := requester(requestCtx)
	stopServer()
	if sErr := <-serverErr; sErr != nil && !isShutdown(sErr) {
		return fmt.Errorf("server core: %w", sErr)
	}
	return err
}

// runRequester is the task core: it initializes the table and runs the tasks
func runRequester(ctx context.Context, cfg *config.Config) error {
	region, err := openRegion(cfg)
	if err != nil {
		return err
	}
	defer region.Close()

	table, err := core.NewTable(region)
	if err != nil {
		return err
	}
	if *reset {
		table.Reset()
	}
	if err := table.Init(); err != nil {
		return fmt.Errorf("failed to initialize %s: %w", cfg.Region, err)
	}

	return request(ctx, cfg, table)
}

// runServer is the peer core: it waits for the requester to publish the
// table and then serves requests
func runServer(ctx context.Context, cfg *config.Config) error {
	region, err := openRegion(cfg)
	if err != nil {
		return err
	}
	defer region.Close()

	table, err := core.NewTable(region)
	if err != nil {
		return err
	}

	fmt.Printf("Waiting for requester on %s...\n", cfg.Region)
	if err := table.Attach(ctx); err != nil {
		return err
	}
	fmt.Println("Server core started")

	return serve(ctx, cfg, table)
}

func request(ctx context.Context, cfg *config.Config, table *core.Table) error {
	mu := core.NewSharedMutex(core.NewRegisterMutex(table.Region(), core.RequesterCore))
	ch := core.NewChannel(table, mu, cfg.ChannelConfig())

	out, err := openConsole(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	fmt.Fprintln(out, "CPU 1 started")

	if *interactive {
		return runConsole(ctx, ch, table, os.Stdin, out)
	}

	r := &runner.Runner{Channel: ch, Tasks: cfg.Tasks, Delay: cfg.TaskDelay(), Sink: out}
	err = r.Run(ctx)

	stats := r.Stats()
	fmt.Fprintf(out, "Completed %d requests, %d failed\n", stats.Completed, stats.Failed)
	return err
}

func serve(ctx context.Context, cfg *config.Config, table *core.Table) error {
	mu := core.NewSharedMutex(core.NewRegisterMutex(table.Region(), core.ServerCore))
	srv := core.NewServer(table, mu, newServiceHandler(cfg.ServeWork()), cfg.ServerConfig())
	return srv.Serve(ctx)
}

// newServiceHandler returns a handler answering each task with a running
// per-task count in the upper bits and the task tag in the low nibble
func newServiceHandler(work time.Duration) core.Handler {
	var counts [protocol.SlotCount]uint32
	return func(id int, p core.Payload) uint32 {
		if work > 0 {
			time.Sleep(work)
		}
		counts[id]++
		if core.IsDebugEnabled() {
			core.DebugAsync(fmt.Sprintf("served slot %d tag %d count %d", id, p[0], counts[id]))
		}
		return counts[id]<<4 | p[0]&0xF
	}
}
