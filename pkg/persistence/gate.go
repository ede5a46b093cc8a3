// Package persistence is the shared-state-file gate every host process goes
// through: read-only operations hydrate and dispatch without locking; every
// other operation takes an exclusive file lock, hydrates, dispatches, and
// writes the updated snapshot back atomically before releasing the lock.
//
// This is deliberately a single JSON file plus a lock file, not a database:
// the core never makes a network call, and the gate exists only so that
// independent host processes sharing one state file never interleave writes.
package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-pm/pkg/dispatch"
	"github.com/Mindburn-Labs/helm-pm/pkg/tenants"
)

const lockPollInterval = 10 * time.Millisecond

// Gate owns one state file, one in-process registry hydrated from it, and
// the dispatcher that executes operations against that registry.
type Gate struct {
	mu          sync.Mutex
	stateFile   string
	lockTimeout time.Duration
	registry    *tenants.Registry
	dispatcher  *dispatch.Dispatcher
}

// NewGate builds a Gate over stateFile. lockTimeout bounds how long a write
// waits to acquire the exclusive lock before returning StateLockTimeoutError.
func NewGate(stateFile string, lockTimeout time.Duration) (*Gate, error) {
	registry := tenants.NewRegistry()
	dispatcher, err := dispatch.New(registry)
	if err != nil {
		return nil, err
	}
	return &Gate{
		stateFile:   stateFile,
		lockTimeout: lockTimeout,
		registry:    registry,
		dispatcher:  dispatcher,
	}, nil
}

func (g *Gate) lockFilePath() string {
	return g.stateFile + ".lock"
}

// Dispatch folds envelope["operation"] to decide whether a lock is required,
// then hydrates, executes, and (for writes) persists.
func (g *Gate) Dispatch(envelope map[string]interface{}, timestamp string) (map[string]interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rawOperation, _ := envelope["operation"].(string)
	operation, _ := dispatch.FoldOperation(rawOperation)

	if dispatch.IsReadOnly(operation) {
		if err := g.hydrate(); err != nil {
			return nil, err
		}
		return g.dispatcher.Dispatch(envelope, timestamp)
	}

	release, err := g.acquireLock()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := g.hydrate(); err != nil {
		return nil, err
	}

	result, err := g.dispatcher.Dispatch(envelope, timestamp)
	if err != nil {
		return nil, err
	}

	if err := g.persist(); err != nil {
		return nil, err
	}
	return result, nil
}

// hydrate loads the state file into the registry. A missing file is treated
// as an empty registry; any other read or decode failure is surfaced.
func (g *Gate) hydrate() error {
	data, err := os.ReadFile(g.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			g.registry.Reset()
			return nil
		}
		return err
	}
	if len(data) == 0 {
		g.registry.Reset()
		return nil
	}
	if err := g.registry.LoadSnapshot(data); err != nil {
		return &StateFileCorruptError{StateFile: g.stateFile, Cause: err}
	}
	return nil
}

// persist writes the registry's current contents to a temp file in the same
// directory as stateFile, then renames it into place. The rename is atomic
// on any POSIX filesystem, so a concurrent reader never observes a partial
// write.
func (g *Gate) persist() error {
	data, err := g.registry.MarshalSnapshot()
	if err != nil {
		return err
	}

	dir := filepath.Dir(g.stateFile)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".helm-pm-state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, g.stateFile)
}

// acquireLock creates the lock file exclusively, retrying until lockTimeout
// elapses. The lock file's contents are a fresh uuid per attempt: a
// non-semantic token, useful only for an operator inspecting a stuck lock
// file, never read back by the gate itself.
func (g *Gate) acquireLock() (release func(), err error) {
	deadline := time.Now().Add(g.lockTimeout)
	lockPath := g.lockFilePath()

	for {
		f, openErr := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if openErr == nil {
			_, _ = f.WriteString(uuid.New().String())
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(openErr) {
			return nil, openErr
		}
		if time.Now().After(deadline) {
			return nil, &StateLockTimeoutError{StateFile: g.stateFile, TimeoutMs: int(g.lockTimeout / time.Millisecond)}
		}
		time.Sleep(lockPollInterval)
	}
}
