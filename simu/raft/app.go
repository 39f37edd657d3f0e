package raft

import (
	"encoding/binary"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/thinkermao/network-simu-go"

	"github.com/luoshicai/chfs-filesystem/raft"
	"github.com/luoshicai/chfs-filesystem/raft/proto"
	"github.com/luoshicai/chfs-filesystem/raft/storage"
	"github.com/luoshicai/chfs-filesystem/utils/pd"
)

// ElectionTimeout is how long the environment sleeps, in
// milliseconds, when it wants an election to have happened.
const ElectionTimeout = 1000

// Application is one raft node under test.
type Application interface {
	ID() int
	Start(nodes []uint64) error
	Shutdown()
	IsCrash() bool

	Propose(value int) (uint64, uint64, bool)
	SaveSnapshot()
	GetState() (uint64, bool)

	LogLength() int
	LogAt(index int) (int, bool)
}

// intCommand is the 8-byte test command.
type intCommand uint64

func (c *intCommand) Size() int { return 8 }

func (c *intCommand) MarshalTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(*c))
}

func (c *intCommand) Unmarshal(buf []byte) error {
	*c = intCommand(binary.LittleEndian.Uint64(buf))
	return nil
}

type smImage struct {
	AppliedIndex uint64
	Logs         map[int]int
}

// appStateMachine records each applied value keyed by log index, so
// the environment can compare replicas entry by entry.
type appStateMachine struct {
	mutex        sync.Mutex
	appliedIndex uint64
	logs         map[int]int
}

func makeAppStateMachine() *appStateMachine {
	return &appStateMachine{logs: make(map[int]int)}
}

func (sm *appStateMachine) reset() {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.appliedIndex = 0
	sm.logs = make(map[int]int)
}

func (sm *appStateMachine) Apply(data []byte) {
	var cmd intCommand
	if err := cmd.Unmarshal(data); err != nil {
		log.Panicf("bad command bytes: %v", err)
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.appliedIndex++
	sm.logs[int(sm.appliedIndex)] = int(cmd)
}

func (sm *appStateMachine) Snapshot() []byte {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	logs := make(map[int]int, len(sm.logs))
	for k, v := range sm.logs {
		logs[k] = v
	}
	return pd.MustMarshal(&smImage{AppliedIndex: sm.appliedIndex, Logs: logs})
}

func (sm *appStateMachine) ApplySnapshot(data []byte) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if len(data) == 0 {
		sm.appliedIndex = 0
		sm.logs = make(map[int]int)
		return
	}

	var img smImage
	pd.MustUnmarshal(&img, data)
	sm.appliedIndex = img.AppliedIndex
	sm.logs = img.Logs
	if sm.logs == nil {
		sm.logs = make(map[int]int)
	}
}

func (sm *appStateMachine) length() int {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return len(sm.logs)
}

func (sm *appStateMachine) at(index int) (int, bool) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	value, ok := sm.logs[index]
	return value, ok
}

// application wires a replica, its disk storage and the simulated
// transport together, and survives crash/restart cycles.
type application struct {
	id      uint64
	walDir  string
	handler network.Handler

	transport *rpcTransport
	sm        *appStateMachine

	rfMutex sync.Mutex // lock for rf
	rf      *raft.Replica
}

// MakeApp return an Application bound to one network endpoint.
func MakeApp(walDir string, handler network.Handler) Application {
	app := &application{
		id:      uint64(handler.ID()),
		walDir:  walDir,
		handler: handler,
		sm:      makeAppStateMachine(),
	}
	app.transport = makeTransport(handler, app.dispatch)
	return app
}

func (app *application) getRaft() *raft.Replica {
	app.rfMutex.Lock()
	defer app.rfMutex.Unlock()
	return app.rf
}

// dispatch route an incoming request into the replica. While the
// node is crashed every request answers Retry.
func (app *application) dispatch(op uint32, body []byte) ([]byte, raftpd.Status) {
	rf := app.getRaft()
	if rf == nil {
		return nil, raftpd.StatusRetry
	}

	switch op {
	case raftpd.OpRequestVote:
		var args raftpd.RequestVoteArgs
		if err := args.Unmarshal(body); err != nil {
			return nil, raftpd.StatusRPCErr
		}
		var reply raftpd.RequestVoteReply
		rf.RequestVote(&args, &reply)
		return reply.Marshal(), raftpd.StatusOK

	case raftpd.OpAppendEntries:
		var args raftpd.AppendEntriesArgs
		if err := args.Unmarshal(body); err != nil {
			return nil, raftpd.StatusRPCErr
		}
		var reply raftpd.AppendEntriesReply
		rf.AppendEntries(&args, &reply)
		return reply.Marshal(), raftpd.StatusOK

	case raftpd.OpInstallSnapshot:
		var args raftpd.InstallSnapshotArgs
		if err := args.Unmarshal(body); err != nil {
			return nil, raftpd.StatusRPCErr
		}
		var reply raftpd.InstallSnapshotReply
		rf.InstallSnapshot(&args, &reply)
		return reply.Marshal(), raftpd.StatusOK

	default:
		return nil, raftpd.StatusNoEntity
	}
}

// Start build a replica from whatever the wal dir holds. If one
// already runs it is shut down first.
func (app *application) Start(nodes []uint64) error {
	app.Shutdown()

	store, err := storage.MakeStorage(app.walDir)
	if err != nil {
		return err
	}

	app.sm.reset()
	rf, err := raft.MakeReplica(app.id, nodes, store, app.sm, app.transport)
	if err != nil {
		return err
	}
	rf.Start()

	app.rfMutex.Lock()
	defer app.rfMutex.Unlock()
	app.rf = rf
	return nil
}

// Shutdown stop the replica but keep its persistent state.
func (app *application) Shutdown() {
	app.rfMutex.Lock()
	rf := app.rf
	app.rf = nil
	app.rfMutex.Unlock()

	if rf != nil {
		rf.Stop()
	}
}

func (app *application) IsCrash() bool {
	return app.getRaft() == nil
}

func (app *application) ID() int {
	return app.handler.ID()
}

func (app *application) Propose(value int) (uint64, uint64, bool) {
	rf := app.getRaft()
	if rf == nil {
		return 0, 0, false
	}

	cmd := intCommand(value)
	term, index, isLeader := rf.Submit(&cmd)
	return index, term, isLeader
}

func (app *application) SaveSnapshot() {
	rf := app.getRaft()
	if rf != nil {
		rf.SaveSnapshot()
	}
}

func (app *application) GetState() (uint64, bool) {
	rf := app.getRaft()
	if rf == nil {
		return 0, false
	}

	isLeader, term := rf.IsLeader()
	return term, isLeader
}

func (app *application) LogLength() int {
	return app.sm.length()
}

func (app *application) LogAt(index int) (int, bool) {
	return app.sm.at(index)
}
