package verify

import (
	"fmt"
	"testing"
	"time"

	"github.com/luoshicai/chfs-filesystem/simu/env"
	"github.com/luoshicai/chfs-filesystem/simu/raft"
)

func sleep(millis int) {
	time.Sleep(time.Duration(millis) * time.Millisecond)
}

func TestRaft_InitialElection(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: initial election ...\n")

	// is a leader elected?
	env.CheckOneLeader()

	// does everyone agree on the term, and does the term stay
	// stable while nothing goes wrong?
	term1 := env.CheckTerms()
	sleep(2 * raft.ElectionTimeout)
	term2 := env.CheckTerms()
	if term1 != term2 {
		t.Fatalf("term changed even though there were no failures")
	}

	env.CheckOneLeader()

	fmt.Printf("  ... Passed\n")
}

func TestRaft_ReElection(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: election after network failure ...\n")

	leader1 := env.CheckOneLeader()

	// if the leader disconnects, a new one should be elected.
	env.Disconnect(leader1)
	env.CheckOneLeader()

	// if the old leader rejoins, that shouldn't disturb the
	// new leader.
	env.Connect(leader1)
	leader2 := env.CheckOneLeader()

	// if there's no quorum, no leader should be elected.
	env.Disconnect(leader2)
	env.Disconnect((leader2 + 1) % servers)
	sleep(2 * raft.ElectionTimeout)
	env.CheckNoLeader()

	// if a quorum arises, it should elect a leader.
	env.Connect((leader2 + 1) % servers)
	env.CheckOneLeader()

	// re-join of last node shouldn't prevent leader from existing.
	env.Connect(leader2)
	env.CheckOneLeader()

	fmt.Printf("  ... Passed\n")
}

func TestRaft_SplitVoteConverges(t *testing.T) {
	servers := 5
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: repeated leader loss converges ...\n")

	// knocking out the leader a few times in a row forces fresh
	// elections; randomized timeouts must produce a unique winner
	// within a bounded number of rounds every time.
	down := make([]int, 0, 2)
	for iters := 0; iters < 3; iters++ {
		leader := env.CheckOneLeader()
		env.Disconnect(leader)
		down = append(down, leader)
		if len(down) == 2 {
			env.Connect(down[0])
			down = down[1:]
		}
		env.CheckOneLeader()
	}

	fmt.Printf("  ... Passed\n")
}
