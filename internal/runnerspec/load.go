package runnerspec

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// rawSpec is the on-disk/CLI shape of a JobSpec: a plain object with
// required exec_type/exec_info and optional memory_estimate/cpu_estimate.
type rawSpec struct {
	ExecType       ExecType `json:"exec_type" yaml:"exec_type"`
	ExecInfo       ExecInfo `json:"exec_info" yaml:"exec_info"`
	MemoryEstimate *uint64  `json:"memory_estimate,omitempty" yaml:"memory_estimate,omitempty"`
	CPUEstimate    *float64 `json:"cpu_estimate,omitempty" yaml:"cpu_estimate,omitempty"`
}

// ErrMissingExecType indicates a spec file/CLI combination did not specify
// exec_type.
var ErrMissingExecType = fmt.Errorf("exec_type is required")

// ErrMissingExecInfo indicates a spec file/CLI combination did not specify
// exec_info.
var ErrMissingExecInfo = fmt.Errorf("exec_info is required")

// Load decodes a JobSpec from r. isYAML selects the decoder; when false,
// JSON is used. A nil r (no spec file provided) yields a JobSpec with no
// exec_type, an empty ExecInfo and the default estimates, ready for the
// CLI's flag overrides to populate.
func Load(r io.Reader, isYAML bool) (JobSpec, error) {
	var raw rawSpec
	if r != nil {
		var err error
		if isYAML {
			err = yaml.NewDecoder(r).Decode(&raw)
		} else {
			err = json.NewDecoder(r).Decode(&raw)
		}
		if err != nil && err != io.EOF {
			return JobSpec{}, fmt.Errorf("decode spec: %w", err)
		}
	}

	if raw.ExecInfo == nil {
		raw.ExecInfo = ExecInfo{}
	}

	return JobSpec{
		ID:             uuid.New(),
		ExecType:       raw.ExecType,
		ExecInfo:       raw.ExecInfo,
		MemoryEstimate: derefOr(raw.MemoryEstimate, DefaultMemoryEstimate),
		CPUEstimate:    derefOr(raw.CPUEstimate, DefaultCPUEstimate),
	}, nil
}

// IsYAMLPath reports whether a spec file path should be decoded as YAML,
// i.e. it does not end in ".json".
func IsYAMLPath(path string) bool {
	return !strings.HasSuffix(strings.ToLower(path), ".json")
}

// Validate reports ErrMissingExecType/ErrMissingExecInfo if the JobSpec is
// incomplete. It is the Go analogue of the CLI's validate_spec generator in
// the original implementation.
func (s JobSpec) Validate() error {
	if s.ExecType.Key == "" && s.ExecType.Explicit == nil {
		return ErrMissingExecType
	}
	if s.ExecInfo == nil {
		return ErrMissingExecInfo
	}
	return nil
}

func derefOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
