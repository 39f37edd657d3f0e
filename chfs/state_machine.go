package chfs

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const contentCacheBytes = 32 * 1024 * 1024

// Attr are the attributes of one inode.
type Attr struct {
	Type  uint32
	Size  uint32
	Atime int64
	Mtime int64
	Ctime int64
}

// Inode is one file or directory: attributes plus extent content.
type Inode struct {
	Attr Attr
	Data []byte
}

type image struct {
	NextID uint64
	Inodes map[uint64]*Inode
}

// StateMachine is the in-memory inode engine replicated by raft.
// Mutations arrive only through Apply, in identical order on every
// replica; readers go through the accessor methods, served from a
// content cache when warm.
type StateMachine struct {
	mu     sync.Mutex
	nextID uint64
	inodes map[uint64]*Inode
	cache  *fastcache.Cache
}

// MakeStateMachine return an empty inode engine. Inode ids start
// at 1; id 0 never exists.
func MakeStateMachine() *StateMachine {
	return &StateMachine{
		nextID: 1,
		inodes: make(map[uint64]*Inode),
		cache:  fastcache.New(contentCacheBytes),
	}
}

func cacheKey(id uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)
	return key[:]
}

// Apply execute one committed command. Commands that no longer make
// sense (put on a removed inode) apply as no-ops so every replica
// stays identical.
func (sm *StateMachine) Apply(data []byte) {
	var cmd Command
	if err := cmd.Unmarshal(data); err != nil {
		log.Errorf("chfs: drop undecodable command: %v", err)
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now().Unix()
	switch cmd.Type {
	case CmdCreate:
		id := sm.nextID
		sm.nextID++
		sm.inodes[id] = &Inode{
			Attr: Attr{Type: cmd.FileType, Atime: now, Mtime: now, Ctime: now},
		}
		log.Debugf("chfs: create inode %d type %d", id, cmd.FileType)

	case CmdPut:
		inode, ok := sm.inodes[cmd.ID]
		if !ok {
			return
		}
		inode.Data = append([]byte(nil), cmd.Buf...)
		inode.Attr.Size = uint32(len(cmd.Buf))
		inode.Attr.Mtime = now
		inode.Attr.Ctime = now
		sm.cache.Set(cacheKey(cmd.ID), inode.Data)

	case CmdGet:
		inode, ok := sm.inodes[cmd.ID]
		if !ok {
			return
		}
		inode.Attr.Atime = now
		sm.cache.Set(cacheKey(cmd.ID), inode.Data)

	case CmdGetAttr:
		// attribute reads change nothing; replicated only for the
		// reply side effect at the submitting node.

	case CmdRemove:
		delete(sm.inodes, cmd.ID)
		sm.cache.Del(cacheKey(cmd.ID))

	default:
		log.Errorf("chfs: unknown command type %v", cmd.Type)
	}
}

// Snapshot encode the whole inode table.
func (sm *StateMachine) Snapshot() []byte {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := msgpack.Marshal(&image{NextID: sm.nextID, Inodes: sm.inodes})
	if err != nil {
		log.Panicf("chfs: encode snapshot: %v", err)
	}
	return data
}

// ApplySnapshot replace the whole inode table with a snapshot
// image. An empty image resets to the fresh state.
func (sm *StateMachine) ApplySnapshot(data []byte) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.cache.Reset()
	if len(data) == 0 {
		sm.nextID = 1
		sm.inodes = make(map[uint64]*Inode)
		return
	}

	var img image
	if err := msgpack.Unmarshal(data, &img); err != nil {
		log.Panicf("chfs: decode snapshot: %v", err)
	}
	sm.nextID = img.NextID
	sm.inodes = img.Inodes
	if sm.inodes == nil {
		sm.inodes = make(map[uint64]*Inode)
	}
}

// Get read an inode's content, cache first.
func (sm *StateMachine) Get(id uint64) ([]byte, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if content, ok := sm.cache.HasGet(nil, cacheKey(id)); ok {
		return content, true
	}
	inode, ok := sm.inodes[id]
	if !ok {
		return nil, false
	}
	sm.cache.Set(cacheKey(id), inode.Data)
	return append([]byte(nil), inode.Data...), true
}

// GetAttr read an inode's attributes.
func (sm *StateMachine) GetAttr(id uint64) (Attr, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	inode, ok := sm.inodes[id]
	if !ok {
		return Attr{}, false
	}
	return inode.Attr, true
}

// NumInodes report how many inodes are live.
func (sm *StateMachine) NumInodes() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.inodes)
}
