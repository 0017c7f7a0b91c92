package schedule

import (
	"bytes"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyCmd(t *testing.T, fsm *LeaderLockFSM, cmd LockCommand) interface{} {
	t.Helper()
	data, err := marshalLockCommand(cmd)
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: data})
}

func TestLeaderLockFSM_AcquireAndHold(t *testing.T) {
	fsm := NewLeaderLockFSM()

	resp := applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "reconcile", Holder: "node-1", ExpireAt: time.Now().Add(time.Minute)})
	assert.Nil(t, resp)
	assert.True(t, fsm.Holds("reconcile", "node-1"))
	assert.False(t, fsm.Holds("reconcile", "node-2"))
}

func TestLeaderLockFSM_AcquireRejectedWhileHeldByOther(t *testing.T) {
	fsm := NewLeaderLockFSM()
	applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "reconcile", Holder: "node-1", ExpireAt: time.Now().Add(time.Minute)})

	resp := applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "reconcile", Holder: "node-2", ExpireAt: time.Now().Add(time.Minute)})
	err, ok := resp.(error)
	require.True(t, ok)
	assert.Error(t, err)
	assert.True(t, fsm.Holds("reconcile", "node-1"))
}

func TestLeaderLockFSM_AcquireSucceedsAfterExpiry(t *testing.T) {
	fsm := NewLeaderLockFSM()
	applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "reconcile", Holder: "node-1", ExpireAt: time.Now().Add(-time.Minute)})

	resp := applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "reconcile", Holder: "node-2", ExpireAt: time.Now().Add(time.Minute)})
	assert.Nil(t, resp)
	assert.True(t, fsm.Holds("reconcile", "node-2"))
}

func TestLeaderLockFSM_ReleaseByNonHolderIsNoop(t *testing.T) {
	fsm := NewLeaderLockFSM()
	applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "reconcile", Holder: "node-1", ExpireAt: time.Now().Add(time.Minute)})

	applyCmd(t, fsm, LockCommand{Op: "release", Job: "reconcile", Holder: "node-2"})
	assert.True(t, fsm.Holds("reconcile", "node-1"))
}

func TestLeaderLockFSM_ReleaseByHolderClearsLock(t *testing.T) {
	fsm := NewLeaderLockFSM()
	applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "reconcile", Holder: "node-1", ExpireAt: time.Now().Add(time.Minute)})

	applyCmd(t, fsm, LockCommand{Op: "release", Job: "reconcile", Holder: "node-1"})
	assert.False(t, fsm.Holds("reconcile", "node-1"))
}

func TestLeaderLockFSM_SnapshotAndRestoreRoundTrip(t *testing.T) {
	fsm := NewLeaderLockFSM()
	applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "reconcile", Holder: "node-1", ExpireAt: time.Now().Add(time.Minute)})
	applyCmd(t, fsm, LockCommand{Op: "acquire", Job: "purge", Holder: "node-1", ExpireAt: time.Now().Add(time.Minute)})

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	var buf bytes.Buffer
	sink := &fakeSnapshotSink{Buffer: &buf}
	require.NoError(t, snap.Persist(sink))

	restored := NewLeaderLockFSM()
	require.NoError(t, restored.Restore(&fakeReadCloser{Buffer: &buf}))

	assert.True(t, restored.Holds("reconcile", "node-1"))
	assert.True(t, restored.Holds("purge", "node-1"))
}

type fakeSnapshotSink struct {
	*bytes.Buffer
}

func (f *fakeSnapshotSink) ID() string   { return "test" }
func (f *fakeSnapshotSink) Cancel() error { return nil }
func (f *fakeSnapshotSink) Close() error  { return nil }

type fakeReadCloser struct {
	*bytes.Buffer
}

func (f *fakeReadCloser) Close() error { return nil }
