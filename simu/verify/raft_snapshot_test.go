package verify

import (
	"fmt"
	"testing"

	"github.com/luoshicai/chfs-filesystem/simu/env"
	"github.com/luoshicai/chfs-filesystem/simu/raft"
)

func TestRaft_SnapshotCatchUp(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: snapshot install for a lagging follower ...\n")

	leader := env.CheckOneLeader()
	straggler := (leader + 1) % servers
	env.Disconnect(straggler)

	// commit well past what the straggler has seen, then compact
	// the leader's log so it can only offer a snapshot.
	last := 0
	for v := 1; v <= 40; v++ {
		last = env.One(v, servers-1)
	}
	env.Wait(last, servers-1, -1)
	env.SaveSnapshot(leader)

	env.Connect(straggler)

	// the leader notices the straggler is behind its log base and
	// pushes the snapshot; the follower ends with identical state.
	env.One(41, servers)
	last = env.One(42, servers)
	env.Wait(last, servers, -1)

	for idx := 1; idx <= last; idx++ {
		if !env.LogSame(leader, straggler, idx) {
			t.Fatalf("straggler disagrees at index %d", idx)
		}
	}

	fmt.Printf("  ... Passed\n")
}

func TestRaft_SnapshotRestart(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: restart from snapshot ...\n")

	for v := 1; v <= 20; v++ {
		env.One(v, servers)
	}

	leader := env.CheckOneLeader()
	env.SaveSnapshot(leader)

	// restart the compacted leader: it must rebuild from the
	// snapshot plus whatever log suffix remains.
	env.Crash1(leader)
	env.Start1(leader)
	env.Connect(leader)

	sleep(raft.ElectionTimeout)
	env.One(21, servers)

	last := env.One(22, servers)
	env.Wait(last, servers, -1)
	for i := 0; i < servers; i++ {
		if !env.LogSame(leader, i, last) {
			t.Fatalf("server %d disagrees at index %d", i, last)
		}
	}

	fmt.Printf("  ... Passed\n")
}
