package cli

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/tjper/multirunner/internal/runnerspec"
)

// defaultRegistries builds the built-in executables/handlers registry,
// the Go analogue of the original implementation's settings.py
// RUNNER_COMMANDS/RUNNER_HANDLERS module-level tables. Interpreters are
// resolved via exec.LookPath rather than hardcoded paths, since multirunner
// makes no assumption about where python/node live on the host; a missing
// interpreter simply means that registry entry is absent, surfacing as
// ErrUnknownExecutable if a spec references it.
func defaultRegistries() runnerspec.Registries {
	handlersDir := handlerAssetDir()

	executables := map[string][]string{}
	handlers := map[string]string{}

	if py3, err := exec.LookPath("python3"); err == nil {
		executables["python3"] = []string{py3, "-u"}
		executables["python"] = []string{py3, "-u"}
		handlers["python3"] = filepath.Join(handlersDir, "python.py")
		handlers["python"] = filepath.Join(handlersDir, "python.py")
	}
	if py2, err := exec.LookPath("python2"); err == nil {
		executables["python2"] = []string{py2, "-u"}
		handlers["python2"] = filepath.Join(handlersDir, "python.py")
	}
	if node, err := exec.LookPath("node"); err == nil {
		executables["node"] = []string{node, "--no-deprecation"}
		handlers["node"] = filepath.Join(handlersDir, "node.js")
	}

	return runnerspec.Registries{Executables: executables, Handlers: handlers}
}

// handlerAssetDir locates the handlers/ directory shipped alongside
// multirunner: first next to the running executable, falling back to the
// working directory's "handlers" subdirectory so `go run`/tests still find
// it during development.
func handlerAssetDir() string {
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		dir := filepath.Join(filepath.Dir(exe), "handlers")
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	return "handlers"
}
