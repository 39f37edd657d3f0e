package raft

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/luoshicai/chfs-filesystem/raft/proto"
)

// electionLoop watch leader liveness. When the randomized timeout
// elapses without a valid pulse, start (or restart) a candidacy and
// broadcast RequestVote.
func (r *Replica) electionLoop() {
	defer r.wg.Done()

	for !r.stopping.Load() {
		time.Sleep(TickInterval)

		var args raftpd.RequestVoteArgs
		var targets []uint64
		expired := false

		r.mutex.Lock()
		if !r.role.IsLeader() && time.Since(r.pulse) >= r.timeout {
			args, targets = r.campaign()
			expired = true
		}
		r.mutex.Unlock()

		if !expired {
			continue
		}
		for _, to := range targets {
			to := to
			send := r.makeVoteCall(to, &args)
			r.pool.trySubmit(send)
		}
	}
}

// heartbeatLoop refresh followers while leader. Bare AppendEntries
// keep the lease alive and propagate the commit index.
func (r *Replica) heartbeatLoop() {
	defer r.wg.Done()

	for !r.stopping.Load() {
		time.Sleep(HeartbeatInterval)

		var sends []func()
		r.mutex.Lock()
		if r.role.IsLeader() {
			sends = r.heartbeatRound()
		}
		r.mutex.Unlock()

		r.dispatch(sends)
	}
}

// replicateLoop drive lagging followers: entries while the peer is
// inside the log, a snapshot once it fell behind the base.
func (r *Replica) replicateLoop() {
	defer r.wg.Done()

	for !r.stopping.Load() {
		time.Sleep(TickInterval)

		var sends []func()
		r.mutex.Lock()
		if r.role.IsLeader() {
			sends = r.replicationRound()
		}
		r.mutex.Unlock()

		r.dispatch(sends)
	}
}

// applyLoop deliver committed entries to the state machine in
// strictly increasing index order.
func (r *Replica) applyLoop() {
	defer r.wg.Done()

	for !r.stopping.Load() {
		time.Sleep(TickInterval)

		r.mutex.Lock()
		if r.commitIndex > r.lastApplied {
			entries := r.log.Slice(r.lastApplied+1, r.commitIndex+1)
			for i := 0; i < len(entries); i++ {
				r.sm.Apply(entries[i].Data)
				r.lastApplied = entries[i].Index
			}
			log.Debugf("%d apply entries to index %d", r.id, r.lastApplied)
		}
		r.mutex.Unlock()
	}
}
