package storage

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/thinkermao/wal-go"

	"github.com/luoshicai/chfs-filesystem/raft/proto"
	"github.com/luoshicai/chfs-filesystem/utils"
)

const (
	metadataFile = "metadata"
	snapshotFile = "snapshot"
	logDirName   = "log"
)

var (
	crcTable = crc32.MakeTable(crc32.Castagnoli)

	ErrCRCMismatch = errors.New("storage: crc mismatch")
	ErrClosed      = errors.New("storage: closed")
)

// Storage keeps the three durable artifacts of a replica: the
// metadata blob (term, vote), the log, and the snapshot. Metadata
// and snapshot are single files replaced atomically via rename; the
// log is a wal with an append-only fast path.
type Storage struct {
	dir string
	wal *wal.Wal
}

// MakeStorage prepare a storage rooted at dir. Restore must be
// called before any update.
func MakeStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Storage{dir: dir}, nil
}

// Restore read back whatever the last crashed or stopped incarnation
// persisted. A fresh storage yields term 0, no vote, nil entries and
// nil snapshot. When entries are non-nil the first one is the
// sentinel at the log's base index.
func (s *Storage) Restore() (term, vote uint64,
	entries []raftpd.Entry, snap *raftpd.Snapshot, err error) {
	term, vote = raftpd.InvalidTerm, raftpd.InvalidID

	if payload, e := s.readBlob(metadataFile); e != nil {
		if !os.IsNotExist(e) {
			return 0, 0, nil, nil, e
		}
	} else if len(payload) >= 16 {
		term = binary.BigEndian.Uint64(payload)
		vote = binary.BigEndian.Uint64(payload[8:])
	}

	if payload, e := s.readBlob(snapshotFile); e != nil {
		if !os.IsNotExist(e) {
			return 0, 0, nil, nil, e
		}
	} else if len(payload) >= 16 {
		snap = &raftpd.Snapshot{
			LastIncludedIndex: binary.BigEndian.Uint64(payload),
			LastIncludedTerm:  binary.BigEndian.Uint64(payload[8:]),
			Data:              append([]byte(nil), payload[16:]...),
		}
	}

	base, baseTerm := raftpd.InvalidIndex, raftpd.InvalidTerm
	if snap != nil {
		base, baseTerm = snap.LastIncludedIndex, snap.LastIncludedTerm
	}

	logDir := filepath.Join(s.dir, logDirName)
	if _, e := os.Stat(logDir); os.IsNotExist(e) {
		if err = os.MkdirAll(logDir, 0755); err != nil {
			return
		}
		s.wal, err = wal.Create(logDir, base)
		return term, vote, nil, snap, err
	}

	reader := func(index uint64, data []byte) {
		var entry raftpd.Entry
		if e := raftpd.UnmarshalEntry(&entry, data); e != nil {
			log.Errorf("storage %s skip bad record at %d: %v", s.dir, index, e)
			return
		}
		if entry.Index < base {
			/* already covered by the snapshot */
			return
		}
		// a rewrite of an existing index supersedes the old suffix.
		if len(entries) > 0 {
			pos := int(entry.Index) - int(entries[0].Index)
			if pos < 0 {
				return
			}
			if pos < len(entries) {
				entries = entries[:pos]
			}
		}
		entries = append(entries, entry)
	}

	s.wal, err = wal.Open(logDir, base, reader)
	if err != nil {
		return 0, 0, nil, nil, err
	}

	if len(entries) != 0 && entries[0].Index != base {
		utils.Assert(entries[0].Index == base+1,
			"storage %s log starts at %d, base %d", s.dir, entries[0].Index, base)
		sentinel := raftpd.Entry{Index: base, Term: baseTerm}
		entries = append([]raftpd.Entry{sentinel}, entries...)
	}

	log.Debugf("storage %s restored term: %d vote: %d, %d entries, snapshot: %v",
		s.dir, term, vote, len(entries), snap != nil)
	return term, vote, entries, snap, nil
}

// UpdateMetadata durably replace (term, vote). Small and frequent.
func (s *Storage) UpdateMetadata(term, vote uint64) error {
	payload := make([]byte, 16)
	binary.BigEndian.PutUint64(payload, term)
	binary.BigEndian.PutUint64(payload[8:], vote)
	return s.writeBlob(metadataFile, payload)
}

// AppendLog write entries at the wal tail. newLen is the dense log
// length after the append, used only for validation. Any failure is
// a signal for the caller to fall back to UpdateLog.
func (s *Storage) AppendLog(entries []raftpd.Entry, newLen uint64) error {
	if s.wal == nil {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}
	utils.Assert(entries[len(entries)-1].Index+1 == newLen,
		"storage %s append tail %d disagrees with length %d",
		s.dir, entries[len(entries)-1].Index, newLen)

	errorChs := make([]<-chan error, 0, len(entries)+1)
	for i := 0; i < len(entries); i++ {
		entry := &entries[i]
		errorChs = append(errorChs, s.wal.Write(entry.Index, raftpd.MarshalEntry(entry)))
	}
	errorChs = append(errorChs, s.wal.Sync())

	for _, ch := range errorChs {
		if err := <-ch; err != nil {
			return err
		}
	}
	return nil
}

// UpdateLog rewrite the whole log, sentinel included. Used on
// truncation and on snapshot trim, and as the AppendLog fallback.
func (s *Storage) UpdateLog(entries []raftpd.Entry) error {
	utils.Assert(len(entries) != 0, "storage %s rewrite with empty log", s.dir)

	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			log.Errorf("storage %s close wal: %v", s.dir, err)
		}
		s.wal = nil
	}

	logDir := filepath.Join(s.dir, logDirName)
	if err := os.RemoveAll(logDir); err != nil {
		return err
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	w, err := wal.Create(logDir, entries[0].Index)
	if err != nil {
		return err
	}
	s.wal = w
	return s.AppendLog(entries, entries[len(entries)-1].Index+1)
}

// UpdateSnapshot durably replace the snapshot artifact.
func (s *Storage) UpdateSnapshot(snap *raftpd.Snapshot) error {
	payload := make([]byte, 16, 16+len(snap.Data))
	binary.BigEndian.PutUint64(payload, snap.LastIncludedIndex)
	binary.BigEndian.PutUint64(payload[8:], snap.LastIncludedTerm)
	payload = append(payload, snap.Data...)
	return s.writeBlob(snapshotFile, payload)
}

// Close release the wal. Further updates fail with ErrClosed.
func (s *Storage) Close() {
	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			log.Errorf("storage %s close wal: %v", s.dir, err)
		}
		s.wal = nil
	}
}

// writeBlob replace name with a crc-framed payload, atomically from
// the reader's point of view: write to a temp file, sync, rename.
func (s *Storage) writeBlob(name string, payload []byte) error {
	buf := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(buf, crc32.Checksum(payload, crcTable))
	buf = append(buf, payload...)

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err = f.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Storage) readBlob(name string) ([]byte, error) {
	buf, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	if len(buf) < 4 {
		return nil, ErrCRCMismatch
	}
	payload := buf[4:]
	if crc32.Checksum(payload, crcTable) != binary.BigEndian.Uint32(buf) {
		return nil, ErrCRCMismatch
	}
	return payload, nil
}
