package schedule

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/ledgerbase/posloader/pkg/config"
	"github.com/ledgerbase/posloader/pkg/metrics"
)

// Group is the small Raft group whose sole purpose is leader election among
// loader instances (C14): the elected leader owns the cron ticks. Timeouts
// are tuned for sub-10s failover since a stuck leader should not stall the
// nightly reconciliation job for long.
type Group struct {
	raft *raft.Raft
	fsm  *LeaderLockFSM
	id   string
}

// Bootstrap stands up a single-node (or first-node) Raft group per cfg.
func Bootstrap(cfg config.RaftConfig) (*Group, error) {
	fsm := NewLeaderLockFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve raft bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft instance: %w", err)
	}

	servers := []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
	for _, peer := range cfg.Peers {
		servers = append(servers, raft.Server{ID: raft.ServerID(peer), Address: raft.ServerAddress(peer)})
	}
	future := r.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
	}

	return &Group{raft: r, fsm: fsm, id: cfg.NodeID}, nil
}

// IsLeader reports whether this instance currently holds Raft leadership.
func (g *Group) IsLeader() bool {
	isLeader := g.raft.State() == raft.Leader
	if isLeader {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
	return isLeader
}

// AcquireJobLock attempts to claim job for this instance until lockAtMostFor
// has elapsed, replicating the claim through Raft so every instance agrees
// on who holds it.
func (g *Group) AcquireJobLock(job string, lockAtMostFor time.Duration) (bool, error) {
	if !g.IsLeader() {
		return false, nil
	}
	cmd := LockCommand{Op: "acquire", Job: job, Holder: g.id, ExpireAt: time.Now().Add(lockAtMostFor)}
	data, err := marshalLockCommand(cmd)
	if err != nil {
		return false, err
	}
	future := g.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return false, fmt.Errorf("apply lock command: %w", err)
	}
	if applyErr, ok := future.Response().(error); ok && applyErr != nil {
		return false, nil
	}
	return true, nil
}

// ReleaseJobLock releases job if this instance currently holds it.
func (g *Group) ReleaseJobLock(job string) error {
	cmd := LockCommand{Op: "release", Job: job, Holder: g.id}
	data, err := marshalLockCommand(cmd)
	if err != nil {
		return err
	}
	future := g.raft.Apply(data, 5*time.Second)
	return future.Error()
}

// Shutdown tears down the Raft instance.
func (g *Group) Shutdown() error {
	return g.raft.Shutdown().Error()
}
