package raft

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/thinkermao/network-simu-go"

	"github.com/luoshicai/chfs-filesystem/raft/proto"
	"github.com/luoshicai/chfs-filesystem/utils/pd"
)

// callTimeout bounds the wait for a reply packet. The simulated
// network may drop either direction; the raft tick loops resend.
const callTimeout = 1000 * time.Millisecond

// Packet is the gob envelope on the simulated network: a matching
// sequence number, the raft opcode, and the wire-encoded body.
type Packet struct {
	Seq    uint64
	Op     uint32
	Reply  bool
	Status raftpd.Status
	Body   []byte
}

// dispatcher serves an incoming request against the local replica.
type dispatcher func(op uint32, body []byte) ([]byte, raftpd.Status)

// rpcTransport builds request/reply semantics on the one-way
// simulated network by matching sequence numbers.
type rpcTransport struct {
	handler  network.Handler
	dispatch dispatcher

	mutex   sync.Mutex
	seq     uint64
	pending map[uint64]chan Packet
}

func makeTransport(handler network.Handler, dispatch dispatcher) *rpcTransport {
	t := &rpcTransport{
		handler:  handler,
		dispatch: dispatch,
		pending:  make(map[uint64]chan Packet),
	}
	handler.BindReceiver(t.onMessage)
	return t
}

func (t *rpcTransport) onMessage(from int, data []byte) {
	var pkg Packet
	if err := pd.Unmarshal(&pkg, data); err != nil {
		log.Errorf("simu transport %d: drop bad packet from %d: %v",
			t.handler.ID(), from, err)
		return
	}

	if pkg.Reply {
		t.mutex.Lock()
		ch, ok := t.pending[pkg.Seq]
		delete(t.pending, pkg.Seq)
		t.mutex.Unlock()
		if ok {
			ch <- pkg
		}
		return
	}

	body, status := t.dispatch(pkg.Op, pkg.Body)
	reply := Packet{Seq: pkg.Seq, Op: pkg.Op, Reply: true, Status: status, Body: body}
	if err := t.handler.Call(from, pd.MustMarshal(&reply)); err != nil {
		log.Debugf("simu transport %d: reply to %d lost: %v",
			t.handler.ID(), from, err)
	}
}

func (t *rpcTransport) call(to uint64, op uint32, body []byte) ([]byte, bool) {
	t.mutex.Lock()
	t.seq++
	seq := t.seq
	ch := make(chan Packet, 1)
	t.pending[seq] = ch
	t.mutex.Unlock()

	drop := func() {
		t.mutex.Lock()
		delete(t.pending, seq)
		t.mutex.Unlock()
	}

	pkg := Packet{Seq: seq, Op: op, Body: body}
	if err := t.handler.Call(int(to), pd.MustMarshal(&pkg)); err != nil {
		drop()
		return nil, false
	}

	select {
	case reply := <-ch:
		if reply.Status != raftpd.StatusOK {
			return nil, false
		}
		return reply.Body, true
	case <-time.After(callTimeout):
		drop()
		return nil, false
	}
}

func (t *rpcTransport) RequestVote(to uint64,
	args *raftpd.RequestVoteArgs, reply *raftpd.RequestVoteReply) bool {
	data, ok := t.call(to, raftpd.OpRequestVote, args.Marshal())
	return ok && reply.Unmarshal(data) == nil
}

func (t *rpcTransport) AppendEntries(to uint64,
	args *raftpd.AppendEntriesArgs, reply *raftpd.AppendEntriesReply) bool {
	data, ok := t.call(to, raftpd.OpAppendEntries, args.Marshal())
	return ok && reply.Unmarshal(data) == nil
}

func (t *rpcTransport) InstallSnapshot(to uint64,
	args *raftpd.InstallSnapshotArgs, reply *raftpd.InstallSnapshotReply) bool {
	data, ok := t.call(to, raftpd.OpInstallSnapshot, args.Marshal())
	return ok && reply.Unmarshal(data) == nil
}
