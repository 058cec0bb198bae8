// Package runnerspec defines the JobSpec data model: the executable and
// handler registries, exec_type/exec_info resolution, and the pool-sizing
// inputs a JobSpec carries. It is the Go analogue of the original
// implementation's spec handling in runner.py's JobRunner.setup.
package runnerspec

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	ierrors "github.com/tjper/multirunner/internal/errors"
)

const (
	// DefaultMemoryEstimate is the default memory_estimate, 64 MiB.
	DefaultMemoryEstimate uint64 = 64 * 1024 * 1024
	// DefaultCPUEstimate is the default cpu_estimate, 1 core.
	DefaultCPUEstimate float64 = 1
)

// ExecInfo is the opaque per-job payload serialized verbatim to a worker on
// startup. Its well-known optional keys (handler, mod_name, setup_hook,
// code) are read out by accessor methods; every other key passes through
// unexamined.
type ExecInfo map[string]interface{}

// Handler returns the exec_info "handler" field, defaulting to "main".
func (e ExecInfo) Handler() string {
	return e.stringOr("handler", "main")
}

// ModName returns the exec_info "mod_name" field, defaulting to "run".
func (e ExecInfo) ModName() string {
	return e.stringOr("mod_name", "run")
}

// SetupHook returns the exec_info "setup_hook" field and whether it was
// present.
func (e ExecInfo) SetupHook() (string, bool) {
	v, ok := e["setup_hook"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// SetCode overrides the exec_info "code" field to the {type: "path", data:
// path} form, as the CLI's -code flag does.
func (e ExecInfo) SetCode(path string) {
	e["code"] = map[string]interface{}{"type": "path", "data": path}
}

// SetHandler overrides the exec_info "handler" field.
func (e ExecInfo) SetHandler(handler string) {
	e["handler"] = handler
}

// SetSetupHook overrides the exec_info "setup_hook" field.
func (e ExecInfo) SetSetupHook(hook string) {
	e["setup_hook"] = hook
}

func (e ExecInfo) stringOr(key, def string) string {
	v, ok := e[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// MarshalWire renders ExecInfo as the single JSON line written to a
// worker's stdin during the handshake.
func (e ExecInfo) MarshalWire() ([]byte, error) {
	return json.Marshal(e)
}

// JobSpec is the immutable-after-load description of a run: which worker
// kind to launch, what to hand it, and how large the pool should be.
type JobSpec struct {
	// ID identifies this JobSpec for logging/telemetry correlation. It is
	// never sent over the wire.
	ID uuid.UUID

	// ExecType is either a registry key ("python3") or an explicit
	// {executable, handler} pair, each of whose fields may begin with "!"
	// to indicate a registry lookup.
	ExecType ExecType
	// ExecInfo is serialized verbatim to the worker on startup.
	ExecInfo ExecInfo

	// MemoryEstimate is the assumed memory footprint of a single worker,
	// in bytes.
	MemoryEstimate uint64
	// CPUEstimate is the assumed core count a single worker occupies.
	CPUEstimate float64
}

// ExecType is either a plain registry key or an explicit executable/handler
// pair. Exactly one of Key or Explicit is set.
type ExecType struct {
	Key      string
	Explicit *ExplicitExec
}

// ExplicitExec names an executable and handler directly, bypassing the
// registries unless a field is prefixed with "!".
type ExplicitExec struct {
	// Executable is either a registry reference ("!python3") or a literal
	// argv prefix, e.g. ["python3", "-u"].
	Executable json.RawMessage
	// Handler is either a registry reference ("!python3") or a literal
	// filesystem path to the handler runner.
	Handler string
}

// execTypeWire is the on-the-wire shape of the exec_type field: either a
// bare string, or an object with executable/handler keys.
type execTypeWire struct {
	Executable json.RawMessage `json:"executable"`
	Handler    string          `json:"handler"`
}

// UnmarshalJSON decodes exec_type in either its string or object form.
func (e *ExecType) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err == nil {
		e.Key = key
		e.Explicit = nil
		return nil
	}

	var wire execTypeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	e.Key = ""
	e.Explicit = &ExplicitExec{Executable: wire.Executable, Handler: wire.Handler}
	return nil
}

// MarshalJSON encodes exec_type back to its wire form.
func (e ExecType) MarshalJSON() ([]byte, error) {
	if e.Explicit == nil {
		return json.Marshal(e.Key)
	}
	return json.Marshal(execTypeWire{
		Executable: e.Explicit.Executable,
		Handler:    e.Explicit.Handler,
	})
}

// execTypeWireYAML mirrors execTypeWire but with a yaml.v3-decodable
// Executable field: json.RawMessage has no YAML support of its own.
type execTypeWireYAML struct {
	Executable interface{} `yaml:"executable"`
	Handler    string      `yaml:"handler"`
}

// UnmarshalYAML decodes exec_type in either its string or object form, the
// YAML analogue of UnmarshalJSON. Without this, yaml.v3 falls back to
// decoding into ExecType's exported Key/Explicit fields directly, which
// never matches either wire shape and fails every YAML spec file.
func (e *ExecType) UnmarshalYAML(value *yaml.Node) error {
	var key string
	if err := value.Decode(&key); err == nil {
		e.Key = key
		e.Explicit = nil
		return nil
	}

	var wire execTypeWireYAML
	if err := value.Decode(&wire); err != nil {
		return err
	}

	raw, err := json.Marshal(wire.Executable)
	if err != nil {
		return err
	}
	e.Key = ""
	e.Explicit = &ExplicitExec{Executable: raw, Handler: wire.Handler}
	return nil
}

// MarshalYAML encodes exec_type back to its wire form, the YAML analogue of
// MarshalJSON.
func (e ExecType) MarshalYAML() (interface{}, error) {
	if e.Explicit == nil {
		return e.Key, nil
	}
	var executable interface{}
	if err := json.Unmarshal(e.Explicit.Executable, &executable); err != nil {
		return nil, err
	}
	return execTypeWireYAML{Executable: executable, Handler: e.Explicit.Handler}, nil
}

// Registries map runner names to how a worker of that kind is launched.
type Registries struct {
	// Executables maps a runner name to its argv prefix, e.g.
	// "python3" -> ["/usr/bin/python3", "-u"].
	Executables map[string][]string
	// Handlers maps a runner name to the filesystem path of its handler
	// runner, appended as the last argv element.
	Handlers map[string]string
}

// Resolved is the concrete argv and exec_info payload a worker is spawned
// with, after ExecType/ExecInfo resolution.
type Resolved struct {
	Argv    []string
	Payload []byte
}

// Resolve resolves ExecType against the registries and renders ExecInfo to
// its wire form. A non-nil Failure indicates a spec resolution error
// (spec.md error kind 1): missing/invalid exec_type, exec_info, or an
// unresolved registry reference.
func (s JobSpec) Resolve(reg Registries) (*Resolved, *ierrors.Failure) {
	argv, handler, failure := s.resolveExecutable(reg)
	if failure != nil {
		return nil, failure
	}

	payload, err := s.ExecInfo.MarshalWire()
	if err != nil {
		return nil, ierrors.NewFailure("getting exec_info", err)
	}

	full := make([]string, len(argv)+1)
	copy(full, argv)
	full[len(argv)] = handler

	return &Resolved{Argv: full, Payload: payload}, nil
}

func (s JobSpec) resolveExecutable(reg Registries) ([]string, string, *ierrors.Failure) {
	const when = "resolving executable/handler paths"

	if s.ExecType.Explicit == nil {
		argv, ok := reg.Executables[s.ExecType.Key]
		if !ok {
			return nil, "", ierrors.NewFailure(when, unknownExecutable(s.ExecType.Key))
		}
		handler, ok := reg.Handlers[s.ExecType.Key]
		if !ok {
			return nil, "", ierrors.NewFailure(when, unknownHandler(s.ExecType.Key))
		}
		return copyArgv(argv), handler, nil
	}

	explicit := s.ExecType.Explicit

	argv, err := resolveField(explicit.Executable, reg.Executables)
	if err != nil {
		return nil, "", ierrors.NewFailure(when, err)
	}

	handler := explicit.Handler
	if name, ok := registryRef(handler); ok {
		resolved, ok := reg.Handlers[name]
		if !ok {
			return nil, "", ierrors.NewFailure(when, unknownHandler(name))
		}
		handler = resolved
	}

	return argv, handler, nil
}

// resolveField resolves an executable field that may be a "!"-prefixed
// registry reference (a JSON string) or a literal argv array.
func resolveField(raw json.RawMessage, executables map[string][]string) ([]string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if name, ok := registryRef(asString); ok {
			argv, ok := executables[name]
			if !ok {
				return nil, unknownExecutable(name)
			}
			return copyArgv(argv), nil
		}
		return []string{asString}, nil
	}

	var argv []string
	if err := json.Unmarshal(raw, &argv); err != nil {
		return nil, err
	}
	return argv, nil
}

func registryRef(v string) (string, bool) {
	if strings.HasPrefix(v, "!") {
		return v[1:], true
	}
	return "", false
}

func copyArgv(argv []string) []string {
	out := make([]string, len(argv))
	copy(out, argv)
	return out
}
