package envior

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/thinkermao/network-simu-go"

	"github.com/luoshicai/chfs-filesystem/simu/raft"
)

const walDir = "./wal_log/"

// Environment drives an in-process cluster for tests: a simulated
// network plus one application per node, with partition, crash and
// restart controls.
type Environment struct {
	t          *testing.T
	net        network.Network
	totalNodes int
	apps       []raft.Application
}

// MakeEnvironment build, start and connect a cluster of num nodes.
func MakeEnvironment(t *testing.T, num int, unreliable bool) *Environment {
	builder := network.CreateBuilder()
	env := &Environment{}

	var apps []raft.Application
	for i := 0; i < num; i++ {
		dir := filepath.Join(walDir, strconv.Itoa(i))
		if err := os.MkdirAll(dir, 0777); err != nil {
			panic(err)
		}
		handler := builder.AddEndpoint()
		apps = append(apps, raft.MakeApp(dir, handler))
	}

	env.t = t
	env.net = builder.Build()
	env.totalNodes = num
	env.apps = apps
	env.SetUnreliable(unreliable)

	for i := 0; i < num; i++ {
		env.Start1(i)
		env.Connect(i)
	}

	return env
}

// Crash1 shut down a raft server but keep its persistent state.
func (env *Environment) Crash1(i int) {
	env.Disconnect(i)
	env.apps[i].Shutdown()
}

// Start1 start or restart a raft server from its wal dir.
func (env *Environment) Start1(i int) {
	env.Crash1(i)

	ns := make([]uint64, 0, len(env.apps))
	for j := 0; j < len(env.apps); j++ {
		ns = append(ns, uint64(env.apps[j].ID()))
	}

	if err := env.apps[i].Start(ns); err != nil {
		env.t.Fatalf("start %d: %v", i, err)
	}
}

// Propose submit a value at node id.
func (env *Environment) Propose(id int, value int) (uint64, uint64, bool) {
	return env.apps[id].Propose(value)
}

// GetState return (term, isLeader) of node id.
func (env *Environment) GetState(id int) (uint64, bool) {
	return env.apps[id].GetState()
}

// SaveSnapshot compact node id's log into a snapshot.
func (env *Environment) SaveSnapshot(id int) {
	env.apps[id].SaveSnapshot()
}

// Cleanup shut everything down and wipe the wal dirs.
func (env *Environment) Cleanup() {
	for i := 0; i < len(env.apps); i++ {
		if env.apps[i] != nil {
			env.apps[i].Shutdown()
		}
	}
	if err := os.RemoveAll(walDir); err != nil {
		panic(err)
	}
}

// Connect attach server i to the net.
func (env *Environment) Connect(i int) {
	env.net.Enable(i)
}

// Disconnect detach server i from the net.
func (env *Environment) Disconnect(i int) {
	env.net.Disable(i)
}

// SetUnreliable make the network drop and delay messages.
func (env *Environment) SetUnreliable(unrel bool) {
	env.net.SetReliable(!unrel)
}

// CheckOneLeader check that there is exactly one leader among the
// connected servers, retrying while elections settle.
func (env *Environment) CheckOneLeader() int {
	for iters := 0; iters < 10; iters++ {
		time.Sleep(raft.ElectionTimeout * time.Millisecond)
		leaders := make(map[int][]int)
		for i := 0; i < env.totalNodes; i++ {
			if env.net.IsEnable(i) {
				if t, leader := env.apps[i].GetState(); leader {
					leaders[int(t)] = append(leaders[int(t)], i)
				}
			}
		}

		lastTermWithLeader := -1
		for t, ls := range leaders {
			if len(ls) > 1 {
				env.t.Fatalf("term %d has %d (>1) leaders", t, len(ls))
			}
			if t > lastTermWithLeader {
				lastTermWithLeader = t
			}
		}

		if len(leaders) != 0 {
			return leaders[lastTermWithLeader][0]
		}
	}
	env.t.Fatalf("expected one leader, got none")
	return -1
}

// CheckTerms check that every connected server agrees on the term.
func (env *Environment) CheckTerms() int {
	term := -1
	for i := 0; i < env.totalNodes; i++ {
		if env.net.IsEnable(i) {
			xterm, _ := env.apps[i].GetState()
			if term == -1 {
				term = int(xterm)
			} else if term != int(xterm) {
				env.t.Fatalf("servers disagree on term")
			}
		}
	}
	return term
}

// CheckNoLeader check that no connected server claims leadership.
func (env *Environment) CheckNoLeader() {
	for i := 0; i < env.totalNodes; i++ {
		if env.net.IsEnable(i) {
			if _, isLeader := env.apps[i].GetState(); isLeader {
				env.t.Fatalf("expected no leader, but %v claims to be leader", i)
			}
		}
	}
}

// CommittedNumber how many servers applied the entry at index, and
// the value they agree on.
func (env *Environment) CommittedNumber(index int) (int, interface{}) {
	count := 0
	cmd := -1
	for i := 0; i < len(env.apps); i++ {
		value, ok := env.apps[i].LogAt(index)
		if ok {
			if count > 0 && cmd != value {
				env.t.Fatalf("committed values do not match: index %v, %v, %v\n",
					index, cmd, value)
			}
			count++
			cmd = value
		}
	}
	return count, cmd
}

// Wait for at least n servers to apply index, but not forever.
func (env *Environment) Wait(index int, n int, startTerm int) interface{} {
	to := 10 * time.Millisecond
	for iters := 0; iters < 30; iters++ {
		nd, _ := env.CommittedNumber(index)
		if nd >= n {
			break
		}
		time.Sleep(to)
		if to < time.Second {
			to *= 2
		}
		if startTerm > -1 {
			for _, r := range env.apps {
				if t, _ := r.GetState(); int(t) > startTerm {
					// someone has moved on, can no longer
					// guarantee that we'll "win".
					return -1
				}
			}
		}
	}
	nd, cmd := env.CommittedNumber(index)
	if nd < n {
		env.t.Fatalf("only %d decided for index %d; wanted %d\n",
			nd, index, n)
	}
	return cmd
}

// One do a complete agreement: find the leader, submit cmd, wait
// for expectedServers to apply it. Re-submits on leader churn and
// gives up after about ten seconds. Returns the committed index.
func (env *Environment) One(cmd int, expectedServers int) int {
	t0 := time.Now()
	starts := 0
	for time.Since(t0).Seconds() < 10 {
		// try all the servers, maybe one is the leader.
		index := -1
		for si := 0; si < env.totalNodes; si++ {
			starts = (starts + 1) % env.totalNodes
			index1, _, ok := env.apps[starts].Propose(cmd)
			if ok {
				index = int(index1)
				break
			}
		}

		if index != -1 {
			// somebody claimed to be the leader and to have
			// submitted our command; wait a while for agreement.
			t1 := time.Now()
			for time.Since(t1).Seconds() < 2 {
				nd, cmd1 := env.CommittedNumber(index)
				if nd > 0 && nd >= expectedServers {
					if cmd2, ok := cmd1.(int); ok && cmd2 == cmd {
						// and it was the command we submitted.
						return index
					}
				}
				time.Sleep(20 * time.Millisecond)
			}
		} else {
			time.Sleep(50 * time.Millisecond)
		}
	}
	env.t.Fatalf("One(%v) failed to reach agreement", cmd)
	return -1
}

// TotalNodes return the cluster size.
func (env *Environment) TotalNodes() int {
	return env.totalNodes
}

// LogSame report whether servers a and b applied the same value at
// index.
func (env *Environment) LogSame(a, b, index int) bool {
	va, oka := env.apps[a].LogAt(index)
	vb, okb := env.apps[b].LogAt(index)
	if oka != okb {
		return false
	}
	return !oka || va == vb
}
