package raft

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/luoshicai/chfs-filesystem/raft/holder"
	"github.com/luoshicai/chfs-filesystem/raft/peer"
	"github.com/luoshicai/chfs-filesystem/raft/proto"
)

// Timing of the background activities. Election and replication run
// on a short tick; heartbeats are spaced so a healthy leader always
// refreshes followers well inside the follower timeout.
const (
	TickInterval      = 10 * time.Millisecond
	HeartbeatInterval = 150 * time.Millisecond

	followerTimeoutBase  = 300 * time.Millisecond
	candidateTimeoutBase = 800 * time.Millisecond
	timeoutRange         = 200
)

const (
	dispatchWorkers = 16
	dispatchBacklog = 1024
)

// Replica is one member of the raft group. A single mutex guards
// the whole structure; RPC handlers, background activities and
// public methods all acquire it. The lock is never held across a
// sleep or an RPC call.
type Replica struct {
	mutex sync.Mutex

	id   uint64
	role StateRole

	// persistent state, mirrored by storage
	term     uint64
	vote     uint64
	log      *holder.LogHolder
	snapshot *raftpd.Snapshot

	// volatile state
	commitIndex uint64
	lastApplied uint64

	// information about other nodes in the same raft group
	nodes []*peer.Node

	sm        StateMachine
	storage   Storage
	transport Transport
	pool      *dispatchPool

	// randomized election timing. Each replica owns its rng so
	// in-process clusters never share correlated timeouts.
	rng     *rand.Rand
	pulse   time.Time
	timeout time.Duration

	stopping atomic.Bool
	wg       sync.WaitGroup
}

// MakeReplica restore durable state from storage and build a
// replica for the given cluster view. nodes lists every member id,
// the local one included. The restored snapshot, if any, is applied
// to the state machine before Start spawns the background
// activities.
func MakeReplica(id uint64, nodes []uint64,
	storage Storage, sm StateMachine, transport Transport) (*Replica, error) {
	term, vote, entries, snap, err := storage.Restore()
	if err != nil {
		return nil, err
	}

	r := &Replica{
		id:        id,
		role:      RoleFollower,
		term:      term,
		vote:      vote,
		snapshot:  snap,
		sm:        sm,
		storage:   storage,
		transport: transport,
	}

	if entries == nil {
		base, baseTerm := raftpd.InvalidIndex, raftpd.InvalidTerm
		if snap != nil {
			base, baseTerm = snap.LastIncludedIndex, snap.LastIncludedTerm
		}
		r.log = holder.MakeLogHolder(id, base, baseTerm)
	} else {
		r.log = holder.RebuildLogHolder(id, entries)
	}

	r.commitIndex = r.log.BaseIndex()
	r.lastApplied = r.log.BaseIndex()

	if snap != nil {
		sm.ApplySnapshot(snap.Data)
	}

	for _, nid := range nodes {
		if nid != id {
			r.nodes = append(r.nodes, peer.MakeNode(id, nid, r.log.LastIndex()+1))
		}
	}

	r.rng = rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id)<<32))
	r.pool = makeDispatchPool(dispatchWorkers, dispatchBacklog)
	r.resetFollowerTimer()

	log.Debugf("%d build replica at term: %d [base: %d, last: %d, peers: %d]",
		id, term, r.log.BaseIndex(), r.log.LastIndex(), len(r.nodes))

	return r, nil
}

// Start spawn the four background activities. The RPC handlers must
// be registered with the local server before this is called.
func (r *Replica) Start() {
	r.wg.Add(4)
	go r.electionLoop()
	go r.heartbeatLoop()
	go r.replicateLoop()
	go r.applyLoop()
}

// Stop set the stopping flag, join every background activity, then
// release the dispatch pool and the storage. Outstanding RPCs are
// allowed to finish; their replies are discarded by the flag.
func (r *Replica) Stop() {
	r.stopping.Store(true)
	r.wg.Wait()
	r.pool.stop()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.storage.Close()
}

// IsLeader report whether this replica believes it is the leader,
// together with its current term.
func (r *Replica) IsLeader() (bool, uint64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.role.IsLeader(), r.term
}

// Submit append a command to the local log if this replica is the
// leader, returning the entry's term and index. The entry is not
// yet committed; clients observe commit through the state machine.
func (r *Replica) Submit(cmd Command) (term, index uint64, isLeader bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.role.IsLeader() {
		return raftpd.InvalidTerm, raftpd.InvalidIndex, false
	}

	buf := make([]byte, cmd.Size())
	cmd.MarshalTo(buf)

	entry := raftpd.Entry{
		Index: r.log.LastIndex() + 1,
		Term:  r.term,
		Data:  buf,
	}
	r.log.Append([]raftpd.Entry{entry})
	r.persistAppend([]raftpd.Entry{entry})

	// a cluster of one commits on its own vote.
	r.poll(entry.Index)

	log.Debugf("%d [term: %d] accept command at index %d", r.id, r.term, entry.Index)
	return r.term, entry.Index, true
}

// SaveSnapshot atomically replace the log prefix up to lastApplied
// with a state machine snapshot.
func (r *Replica) SaveSnapshot() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.lastApplied <= r.log.BaseIndex() {
		return
	}

	snap := &raftpd.Snapshot{
		LastIncludedIndex: r.lastApplied,
		LastIncludedTerm:  r.log.Term(r.lastApplied),
		Data:              r.sm.Snapshot(),
	}
	r.log.CompactTo(snap.LastIncludedIndex, snap.LastIncludedTerm)
	r.snapshot = snap

	if err := r.storage.UpdateSnapshot(snap); err != nil {
		log.Panicf("%d persist snapshot: %v", r.id, err)
	}
	if err := r.storage.UpdateLog(r.log.Entries()); err != nil {
		log.Panicf("%d rewrite trimmed log: %v", r.id, err)
	}

	log.Infof("%d [term: %d] compact log to %d", r.id, r.term, snap.LastIncludedIndex)
}

func (r *Replica) quorum() int {
	return (len(r.nodes)+1)/2 + 1
}

func (r *Replica) getNode(id uint64) *peer.Node {
	for i := 0; i < len(r.nodes); i++ {
		if r.nodes[i].ID == id {
			return r.nodes[i]
		}
	}
	return nil
}

func (r *Replica) resetFollowerTimer() {
	r.pulse = time.Now()
	r.timeout = followerTimeoutBase +
		time.Duration(r.rng.Intn(timeoutRange))*time.Millisecond
}

func (r *Replica) resetCandidateTimer() {
	r.pulse = time.Now()
	r.timeout = candidateTimeoutBase +
		time.Duration(r.rng.Intn(timeoutRange))*time.Millisecond
}

func (r *Replica) persistMetadata() {
	if err := r.storage.UpdateMetadata(r.term, r.vote); err != nil {
		log.Panicf("%d persist metadata: %v", r.id, err)
	}
}

// persistAppend write new tail entries; append failure falls back
// to a full log rewrite.
func (r *Replica) persistAppend(entries []raftpd.Entry) {
	if err := r.storage.AppendLog(entries, r.log.Length()); err != nil {
		log.Warnf("%d append log failed (%v), rewrite whole log", r.id, err)
		r.persistFullLog()
	}
}

func (r *Replica) persistFullLog() {
	if err := r.storage.UpdateLog(r.log.Entries()); err != nil {
		log.Panicf("%d rewrite log: %v", r.id, err)
	}
}
