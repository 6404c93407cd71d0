// Package lifecycle owns process start/stop mechanics: the port-busy
// guard, the managed-PID registry, and the restart escalation ladder
// (HTTP /shutdown, then SIGTERM, then SIGKILL). It never signals its own
// PID under any input.
package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Laisky/errors/v2"
)

// ManagedProcess is one gateway instance this tool started and may later
// stop during --restart.
type ManagedProcess struct {
	PID       int   `json:"pid"`
	Port      int   `json:"port"`
	StartedAt int64 `json:"startedAt"`
}

// Registry is the on-disk managed-PID list. Only PIDs recorded here are
// ever signalled; an unmanaged process holding the port is reported, not
// killed.
type Registry struct {
	Path string
}

// NewRegistry places the registry file under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{Path: filepath.Join(dir, "managed-pids.json")}
}

func (r *Registry) load() ([]ManagedProcess, error) {
	body, err := os.ReadFile(r.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read managed-pid registry")
	}
	var procs []ManagedProcess
	if err := json.Unmarshal(body, &procs); err != nil {
		return nil, errors.Wrap(err, "parse managed-pid registry")
	}
	return procs, nil
}

func (r *Registry) save(procs []ManagedProcess) error {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return errors.Wrap(err, "create registry dir")
	}
	body, err := json.MarshalIndent(procs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal managed-pid registry")
	}
	tmp := r.Path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return errors.Wrap(err, "write managed-pid registry")
	}
	return errors.Wrap(os.Rename(tmp, r.Path), "rename managed-pid registry")
}

// Register records pid as managing port, replacing any stale entry for
// the same PID.
func (r *Registry) Register(pid, port int) error {
	procs, err := r.load()
	if err != nil {
		return err
	}
	kept := procs[:0]
	for _, p := range procs {
		if p.PID != pid {
			kept = append(kept, p)
		}
	}
	kept = append(kept, ManagedProcess{PID: pid, Port: port, StartedAt: time.Now().UnixMilli()})
	return r.save(kept)
}

// Remove drops pid from the registry; a missing entry is not an error.
func (r *Registry) Remove(pid int) error {
	procs, err := r.load()
	if err != nil {
		return err
	}
	kept := procs[:0]
	for _, p := range procs {
		if p.PID != pid {
			kept = append(kept, p)
		}
	}
	return r.save(kept)
}

// ManagedFor returns the recorded processes bound to port.
func (r *Registry) ManagedFor(port int) ([]ManagedProcess, error) {
	procs, err := r.load()
	if err != nil {
		return nil, err
	}
	var out []ManagedProcess
	for _, p := range procs {
		if p.Port == port {
			out = append(out, p)
		}
	}
	return out, nil
}
