// Package cli defines the multirunner CLI: flag parsing, spec file
// loading/overrides, wiring the runner.Supervisor, and exit-code
// classification. It is the Go rendering of original_source/__main__.py's
// parse_args/load_spec/main, in the teacher's flag-driven cli.Run style
// (internal/jobworker/cli.Run).
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/tjper/multirunner/internal/log"
	"github.com/tjper/multirunner/internal/runner"
	"github.com/tjper/multirunner/internal/runner/coordinator"
	"github.com/tjper/multirunner/internal/runner/sink"
	"github.com/tjper/multirunner/internal/runner/source"
	"github.com/tjper/multirunner/internal/runnerspec"
	"github.com/tjper/multirunner/internal/telemetry"
)

const (
	// ecSuccess indicates the run completed normally.
	ecSuccess = iota
	// ecInterrupted indicates the run was cut short by a signal.
	ecInterrupted
	// ecSetupFailure indicates spec validation, spec resolution, or initial
	// worker setup failed.
	ecSetupFailure
)

var (
	specFileFlag = flag.String("spec-file", "", "JSON or YAML file containing the job specification")
	dataFlag     = flag.String("data", "", "input file, one JSON record per line (default stdin)")
	outputFlag   = flag.String("output", "", "output file (default stdout)")
	outputMode   = flag.String("output-mode", "w+", "output file open mode: w, w+, a, or a+")
	nProcesses   = flag.Int("n-processes", runtime.NumCPU(), "number of workers to spawn")

	loglevelFlag = flag.String("loglevel", "INFO", "log level: DEBUG, INFO, WARN, or ERROR")
	logfileFlag  = flag.String("logfile", "", "file to write log output to (default stdout)")

	execTypeFlag  = flag.String("exec-type", "", "overrides exec_type in the spec")
	codeFlag      = flag.String("code", "", "overrides exec_info.code (as a local file path) in the spec")
	handlerFlag   = flag.String("handler", "", "overrides exec_info.handler in the spec")
	setupHookFlag = flag.String("setup-hook", "", "overrides exec_info.setup_hook in the spec")

	telemetryAddrFlag   = flag.String("telemetry-addr", "", "address to serve the optional telemetry gRPC API on (disabled if empty)")
	telemetryCertFlag   = flag.String("telemetry-cert", "", "telemetry server certificate (required for mTLS)")
	telemetryKeyFlag    = flag.String("telemetry-key", "", "telemetry server private key (required for mTLS)")
	telemetryCACertFlag = flag.String("telemetry-ca-cert", "", "telemetry client CA certificate (required for mTLS)")
)

// Run is the entrypoint of the multirunner CLI.
func Run() int {
	flag.Parse()

	logWriter, closeLog, err := openLogWriter(*logfileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		return ecSetupFailure
	}
	defer closeLog()

	logger := log.New(logWriter, "MultiRunner ")
	logger.SetLevel(log.ParseLevel(*loglevelFlag, log.Info))

	spec, err := loadSpec()
	if err != nil {
		logger.Errorf("loading spec: %v", err)
		return ecSetupFailure
	}
	applyOverrides(&spec)
	if err := spec.Validate(); err != nil {
		logger.Errorf("validating spec: %v", err)
		return ecSetupFailure
	}

	data, closeData, err := openInput(*dataFlag)
	if err != nil {
		logger.Errorf("opening data stream: %v", err)
		return ecSetupFailure
	}
	defer closeData()

	output, closeOutput, err := openOutput(*outputFlag, *outputMode)
	if err != nil {
		logger.Errorf("opening output stream: %v", err)
		return ecSetupFailure
	}
	defer closeOutput()

	telemetrySrv, err := newTelemetryServer()
	if err != nil {
		logger.Errorf("configuring telemetry server: %v", err)
		return ecSetupFailure
	}

	n := *nProcesses
	if n < 1 {
		n = 1
	}

	sup := runner.New(runner.Options{
		Logger:           logger,
		Registries:       defaultRegistries(),
		Spec:             spec,
		NumWorkers:       n,
		TerminateTimeout: 5 * time.Second,
		ReadTimeout:      0,
		ReplaceOnDeath:   true,
		StatsInterval:    0,
	})

	if telemetrySrv != nil {
		telemetrySrv.SetCollector(sup.StatsCollector())
		telemetrySrv.SetSupervisorAccessors(sup.WorkerCount, sup.ItemsProcessed)
		if err := telemetrySrv.Serve(); err != nil {
			logger.Errorf("starting telemetry server: %v", err)
			return ecSetupFailure
		}
		defer telemetrySrv.Stop()
		logger.Infof("telemetry server listening on %s", *telemetryAddrFlag)
	}

	if failure, err := sup.Setup(); err != nil || failure != nil {
		if err != nil {
			logger.Errorf("setting up workers: %v", err)
		} else {
			logger.Errorf("setting up workers: %s", failure.Error())
		}
		return ecSetupFailure
	}

	src := source.New(bufio.NewScanner(data))
	sup.Seed(src)

	coord := coordinator.New(coordinator.DefaultSignals...)
	defer coord.Stop()

	stats, err := sup.Run(context.Background(), src, sink.New(output), coord)
	if err != nil {
		logger.Errorf("running: %v", err)
		return ecSetupFailure
	}

	logStats(logger, stats)

	if stats.SignaledOff {
		logger.Infof("exiting due to signal")
		return ecInterrupted
	}
	return ecSuccess
}

func loadSpec() (runnerspec.JobSpec, error) {
	if *specFileFlag == "" {
		return runnerspec.Load(nil, false)
	}

	f, err := os.Open(*specFileFlag)
	if err != nil {
		return runnerspec.JobSpec{}, fmt.Errorf("open spec file: %w", err)
	}
	defer f.Close()

	return runnerspec.Load(f, runnerspec.IsYAMLPath(*specFileFlag))
}

func applyOverrides(spec *runnerspec.JobSpec) {
	if *execTypeFlag != "" {
		spec.ExecType = runnerspec.ExecType{Key: *execTypeFlag}
	}
	if spec.ExecInfo == nil {
		spec.ExecInfo = runnerspec.ExecInfo{}
	}
	if *codeFlag != "" {
		spec.ExecInfo.SetCode(*codeFlag)
	}
	if *handlerFlag != "" {
		spec.ExecInfo.SetHandler(*handlerFlag)
	}
	if *setupHookFlag != "" {
		spec.ExecInfo.SetSetupHook(*setupHookFlag)
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path, mode string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}

	flags, err := outputModeFlags(mode)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func outputModeFlags(mode string) (int, error) {
	switch mode {
	case "w":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, nil
	case "w+":
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, nil
	case "a":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, nil
	case "a+":
		return os.O_RDWR | os.O_CREATE | os.O_APPEND, nil
	default:
		return 0, fmt.Errorf("invalid output mode %q, must be one of w, w+, a, a+", mode)
	}
}

func openLogWriter(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func newTelemetryServer() (*telemetry.Server, error) {
	if *telemetryAddrFlag == "" {
		return nil, nil
	}

	return telemetry.NewServer(telemetry.Options{
		Addr:     *telemetryAddrFlag,
		CertFile: *telemetryCertFlag,
		KeyFile:  *telemetryKeyFlag,
		CACert:   *telemetryCACertFlag,
	})
}

// logStats logs the end-of-run summary, ported from
// original_source/__main__.py's log_stats.
func logStats(logger *log.Logger, stats runner.Stats) {
	logger.Infof("# Items processed: %d", stats.ItemsProcessed)
	logger.Infof("# Time elapsed: %s", stats.TimeElapsed)
	logger.Infof("# Workers remaining at exit: %d", stats.WorkersAtExit)

	avgs, err := json.MarshalIndent(stats.Average, "", "    ")
	if err != nil {
		logger.Warnf("marshaling stats average: %v", err)
		return
	}
	logger.Infof("Pool average stats:\n%s", avgs)
}
