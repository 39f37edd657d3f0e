package verify

import (
	"fmt"
	"testing"

	"github.com/luoshicai/chfs-filesystem/simu/env"
	"github.com/luoshicai/chfs-filesystem/simu/raft"
)

func TestRaft_Persist(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: basic persistence ...\n")

	env.One(11, servers)

	// crash and re-start all
	for i := 0; i < servers; i++ {
		env.Start1(i)
	}
	for i := 0; i < servers; i++ {
		env.Disconnect(i)
		env.Connect(i)
	}

	env.One(12, servers)

	leader1 := env.CheckOneLeader()
	env.Disconnect(leader1)
	env.Start1(leader1)
	env.Connect(leader1)

	env.One(13, servers)

	leader2 := env.CheckOneLeader()
	env.Disconnect(leader2)
	env.One(14, servers-1)
	env.Start1(leader2)
	env.Connect(leader2)

	// wait for leader2 to join before killing the third server
	env.Wait(4, servers, -1)

	i3 := (env.CheckOneLeader() + 1) % servers
	env.Disconnect(i3)
	env.One(15, servers-1)
	env.Start1(i3)
	env.Connect(i3)

	env.One(16, servers)

	fmt.Printf("  ... Passed\n")
}

func TestRaft_CrashCommittedSurvives(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: committed entries survive a full restart ...\n")

	index := 0
	for v := 1; v <= 5; v++ {
		index = env.One(v*7, servers)
	}

	for i := 0; i < servers; i++ {
		env.Crash1(i)
	}
	for i := 0; i < servers; i++ {
		env.Start1(i)
		env.Connect(i)
	}

	sleep(raft.ElectionTimeout)

	// restart resets the commit index to the log base, and a leader
	// only commits entries of its own term; one new-term entry lets
	// the replayed prefix commit and apply again.
	env.One(1000, servers)

	// every committed entry is re-applied identically after the
	// replay from storage.
	for idx := 1; idx <= index; idx++ {
		nd := 0
		for ; nd < 30; nd++ {
			count, _ := env.CommittedNumber(idx)
			if count == servers {
				break
			}
			sleep(100)
		}
		count, value := env.CommittedNumber(idx)
		if count != servers {
			t.Fatalf("index %d applied on %d servers after restart", idx, count)
		}
		if idx == index && value.(int) != 35 {
			t.Fatalf("index %d value %v", idx, value)
		}
	}

	fmt.Printf("  ... Passed\n")
}
