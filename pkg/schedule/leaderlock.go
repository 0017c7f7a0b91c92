// leaderlock.go implements a Raft FSM narrowed to a single piece of
// replicated state: which instance currently holds which named job lock,
// and until when. That is all a scheduled-job singleton needs — this
// service does not replicate an object store, only leadership.
package schedule

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
)

// LockCommand is one Raft log entry: acquire or release a named job lock.
type LockCommand struct {
	Op       string    `json:"op"` // "acquire" | "release"
	Job      string    `json:"job"`
	Holder   string    `json:"holder"`
	ExpireAt time.Time `json:"expireAt"`
}

// lockState is one job's current holder and lease expiry.
type lockState struct {
	Holder   string
	ExpireAt time.Time
}

// LeaderLockFSM is the Raft finite-state machine backing lockAtMostFor
// semantics: a job claim is valid until ExpireAt, after which any
// instance's Apply("acquire") succeeds again even if the prior holder never
// explicitly released it (covers a crashed leader).
type LeaderLockFSM struct {
	mu    sync.RWMutex
	locks map[string]lockState
}

// NewLeaderLockFSM returns an empty FSM.
func NewLeaderLockFSM() *LeaderLockFSM {
	return &LeaderLockFSM{locks: make(map[string]lockState)}
}

// Apply applies one committed LockCommand.
func (f *LeaderLockFSM) Apply(logEntry *raft.Log) interface{} {
	var cmd LockCommand
	if err := json.Unmarshal(logEntry.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal lock command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "acquire":
		existing, held := f.locks[cmd.Job]
		if held && existing.Holder != cmd.Holder && time.Now().Before(existing.ExpireAt) {
			return fmt.Errorf("job %s already held by %s until %s", cmd.Job, existing.Holder, existing.ExpireAt)
		}
		f.locks[cmd.Job] = lockState{Holder: cmd.Holder, ExpireAt: cmd.ExpireAt}
		return nil
	case "release":
		if existing, held := f.locks[cmd.Job]; held && existing.Holder == cmd.Holder {
			delete(f.locks, cmd.Job)
		}
		return nil
	default:
		return fmt.Errorf("unknown lock command: %s", cmd.Op)
	}
}

// Holds reports whether holder currently owns job's unexpired lock.
func (f *LeaderLockFSM) Holds(job, holder string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.locks[job]
	return ok && s.Holder == holder && time.Now().Before(s.ExpireAt)
}

// Snapshot implements raft.FSM.
func (f *LeaderLockFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	locks := make(map[string]lockState, len(f.locks))
	for k, v := range f.locks {
		locks[k] = v
	}
	return &lockSnapshot{locks: locks}, nil
}

// Restore implements raft.FSM.
func (f *LeaderLockFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var locks map[string]lockState
	if err := json.NewDecoder(rc).Decode(&locks); err != nil {
		return fmt.Errorf("decode lock snapshot: %w", err)
	}
	f.mu.Lock()
	f.locks = locks
	f.mu.Unlock()
	return nil
}

type lockSnapshot struct {
	locks map[string]lockState
}

func (s *lockSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.locks); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *lockSnapshot) Release() {}
