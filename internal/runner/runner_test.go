package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/tjper/multirunner/internal/log"
	"github.com/tjper/multirunner/internal/runner/coordinator"
	"github.com/tjper/multirunner/internal/runner/sink"
	"github.com/tjper/multirunner/internal/runner/source"
	"github.com/tjper/multirunner/internal/runnerspec"
)

// TestMain re-execs this test binary as a fake worker process when
// GO_WANT_HELPER_WORKER is set, the same self-exec idiom used by the worker
// package's own tests.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_WORKER") == "1" {
		runHelperWorker()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runHelperWorker() {
	in := bufio.NewReader(os.Stdin)
	if _, err := in.ReadString('\n'); err != nil {
		os.Exit(1)
	}
	fmt.Println("OK")

	died := os.Getenv("GO_HELPER_DIE_AFTER") != ""
	dieAfter := os.Getenv("GO_HELPER_DIE_AFTER")

	n := 0
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		n++
		line = strings.TrimRight(line, "\n")
		fmt.Printf("{\"data\":%q,\"exit\":0,\"stdout\":\"\",\"stderr\":\"\"}\n", line)
		if died && dieAfter == fmt.Sprint(n) {
			os.Exit(1)
		}
	}
}

func helperRegistries() runnerspec.Registries {
	return runnerspec.Registries{
		Executables: map[string][]string{"helper": {os.Args[0]}},
		Handlers:    map[string]string{"helper": ""},
	}
}

func helperSpec() runnerspec.JobSpec {
	return runnerspec.JobSpec{
		ExecType: runnerspec.ExecType{Key: "helper"},
		ExecInfo: runnerspec.ExecInfo{},
	}
}

func newTestLogger() *log.Logger {
	return log.New(io.Discard, "test ")
}

func withHelperEnv(t *testing.T, extra map[string]string) {
	t.Helper()
	os.Setenv("GO_WANT_HELPER_WORKER", "1")
	for k, v := range extra {
		os.Setenv(k, v)
	}
	t.Cleanup(func() {
		os.Unsetenv("GO_WANT_HELPER_WORKER")
		for k := range extra {
			os.Unsetenv(k)
		}
	})
}

func TestSupervisorSetupSeedRunHappyPath(t *testing.T) {
	withHelperEnv(t, nil)

	sup := New(Options{
		Logger:           newTestLogger(),
		Registries:       helperRegistries(),
		Spec:             helperSpec(),
		NumWorkers:       3,
		TerminateTimeout: 2 * time.Second,
	})

	if failure, err := sup.Setup(); err != nil || failure != nil {
		t.Fatalf("unexpected setup failure: err=%v failure=%+v", err, failure)
	}
	if sup.WorkerCount() != 3 {
		t.Fatalf("got %d workers, want 3", sup.WorkerCount())
	}

	input := "a\nb\nc\nd\ne\n"
	src := source.New(bufio.NewScanner(strings.NewReader(input)))
	sup.Seed(src)

	var out bytes.Buffer
	// A dedicated, never-raised signal: these tests exercise the Supervisor's
	// worker/drain logic, not shutdown signaling, and SIGCHLD from the
	// self-exec helper workers exiting would otherwise be relayed here too
	// since signal.Notify with no signals given relays everything.
	coord := coordinator.New(syscall.SIGUSR1)
	defer coord.Stop()

	stats, err := sup.Run(context.Background(), src, sink.New(&out), coord)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if stats.ItemsProcessed != 5 {
		t.Fatalf("got %d items processed, want 5", stats.ItemsProcessed)
	}
	if stats.WorkersAtExit != 0 {
		t.Fatalf("got %d workers at exit, want 0", stats.WorkersAtExit)
	}
	if stats.SignaledOff {
		t.Fatal("did not expect a signaled-off run")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d output lines, want 5", len(lines))
	}
	seen := make(map[string]bool)
	for _, l := range lines {
		var rec struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal([]byte(l), &rec); err != nil {
			t.Fatalf("unexpected output line %q: %v", l, err)
		}
		seen[rec.Data] = true
	}
	for _, want := range []string{"a", "b", "c", "d", "e"} {
		if !seen[want] {
			t.Fatalf("missing record %q in output", want)
		}
	}
}

func TestSupervisorReplacesBrokenWorker(t *testing.T) {
	withHelperEnv(t, map[string]string{"GO_HELPER_DIE_AFTER": "1"})

	sup := New(Options{
		Logger:           newTestLogger(),
		Registries:       helperRegistries(),
		Spec:             helperSpec(),
		NumWorkers:       1,
		TerminateTimeout: 2 * time.Second,
		ReplaceOnDeath:   true,
	})

	if failure, err := sup.Setup(); err != nil || failure != nil {
		t.Fatalf("unexpected setup failure: err=%v failure=%+v", err, failure)
	}

	input := "1\n2\n3\n"
	src := source.New(bufio.NewScanner(strings.NewReader(input)))
	sup.Seed(src)

	var out bytes.Buffer
	// A dedicated, never-raised signal: these tests exercise the Supervisor's
	// worker/drain logic, not shutdown signaling, and SIGCHLD from the
	// self-exec helper workers exiting would otherwise be relayed here too
	// since signal.Notify with no signals given relays everything.
	coord := coordinator.New(syscall.SIGUSR1)
	defer coord.Stop()

	stats, err := sup.Run(context.Background(), src, sink.New(&out), coord)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if stats.ItemsProcessed == 0 {
		t.Fatal("expected at least the first worker's record to be processed before it died")
	}
}

func TestSupervisorGracefulShutdown(t *testing.T) {
	withHelperEnv(t, nil)

	sup := New(Options{
		Logger:           newTestLogger(),
		Registries:       helperRegistries(),
		Spec:             helperSpec(),
		NumWorkers:       1,
		TerminateTimeout: 2 * time.Second,
	})

	if failure, err := sup.Setup(); err != nil || failure != nil {
		t.Fatalf("unexpected setup failure: err=%v failure=%+v", err, failure)
	}

	input := "only\n"
	src := source.New(bufio.NewScanner(strings.NewReader(input)))
	sup.Seed(src)

	var out bytes.Buffer
	// A dedicated, never-raised signal: these tests exercise the Supervisor's
	// worker/drain logic, not shutdown signaling, and SIGCHLD from the
	// self-exec helper workers exiting would otherwise be relayed here too
	// since signal.Notify with no signals given relays everything.
	coord := coordinator.New(syscall.SIGUSR1)
	defer coord.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stats, err := sup.Run(ctx, src, sink.New(&out), coord)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if stats.ItemsProcessed != 1 {
		t.Fatalf("got %d items processed, want 1", stats.ItemsProcessed)
	}
	if stats.WorkersAtExit != 0 {
		t.Fatalf("got %d workers at exit, want 0", stats.WorkersAtExit)
	}
}
