package worker

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// TestMain lets this test binary re-exec itself as a fake worker process,
// the idiomatic self-exec pattern (os/exec_test.go, and the teacher's own
// reexec idiom) for exercising real child-process plumbing without
// depending on python/node being installed on the test host.
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

	switch os.Getenv("GO_HELPER_MODE") {
	case "error":
		fmt.Println("ERROR")
		fmt.Println(`{"stack":"boom","when":"loading module"}`)
		return
	case "crash":
		os.Exit(1)
	}

	fmt.Println("OK")

	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		if os.Getenv("GO_HELPER_MODE") == "die-on-second" {
			os.Exit(1)
		}
		fmt.Printf("{\"data\":%q,\"exit\":0,\"stdout\":\"\",\"stderr\":\"\"}\n", line)
	}
}

func spawnHelper(t *testing.T, mode string) *Worker {
	t.Helper()

	oldEnv := os.Getenv("GO_HELPER_MODE")
	os.Setenv("GO_WANT_HELPER_WORKER", "1")
	os.Setenv("GO_HELPER_MODE", mode)
	t.Cleanup(func() {
		os.Setenv("GO_HELPER_MODE", oldEnv)
		os.Unsetenv("GO_WANT_HELPER_WORKER")
	})

	w, failure, err := Spawn([]string{os.Args[0]}, []byte(`{"code":"noop"}`))
	if err != nil {
		t.Fatalf("unexpected spawn error: %v", err)
	}
	if failure != nil && mode != "error" {
		t.Fatalf("unexpected handshake failure: %+v", failure)
	}

	return w
}

func TestSpawnHandshakeOK(t *testing.T) {
	w := spawnHelper(t, "ok")
	if w == nil {
		t.Fatal("expected a worker")
	}
	defer func() {
		_ = w.Hard()
		_ = w.Wait(time.Second)
	}()

	if w.Status() != Ready {
		t.Fatalf("got status %v, want %v", w.Status(), Ready)
	}
	if w.PID() <= 0 {
		t.Fatalf("got pid %d, want a positive pid", w.PID())
	}
}

func TestSpawnHandshakeFailure(t *testing.T) {
	w := spawnHelper(t, "error")
	if w != nil {
		t.Fatalf("expected no worker on handshake failure")
	}
}

func TestWriteRecordAndReadLine(t *testing.T) {
	w := spawnHelper(t, "ok")
	defer func() {
		_ = w.Hard()
		_ = w.Wait(time.Second)
	}()

	if err := w.WriteRecord("hello"); err != nil {
		t.Fatalf("unexpected error writing record: %v", err)
	}
	w.MarkBusy()

	line, err := w.ReadLine()
	if err != nil {
		t.Fatalf("unexpected error reading line: %v", err)
	}
	if !strings.Contains(line, `"data":"hello"`) {
		t.Fatalf("unexpected result line: %q", line)
	}
	w.MarkReady()
}

func TestCloseStdinEndsWorker(t *testing.T) {
	w := spawnHelper(t, "ok")

	if err := w.CloseStdin(); err != nil {
		t.Fatalf("unexpected error closing stdin: %v", err)
	}
	if err := w.Wait(2 * time.Second); err != nil {
		t.Fatalf("unexpected error waiting: %v", err)
	}
	if w.Status() != Dead {
		t.Fatalf("got status %v, want %v", w.Status(), Dead)
	}
}

func TestWaitTimeoutEscalatesToKill(t *testing.T) {
	w := spawnHelper(t, "ok")

	start := time.Now()
	if err := w.Wait(50 * time.Millisecond); err == nil {
		t.Log("process exited on its own before the timeout, which is fine")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Wait took far longer than its timeout plus kill grace period")
	}
	if w.Status() != Dead {
		t.Fatalf("got status %v, want %v", w.Status(), Dead)
	}
}
