package raftpd

import (
	"encoding/binary"
	"errors"
)

// The wire format writes fields in declaration order with fixed-width
// big-endian integers. Booleans are one byte, byte blobs and entry
// vectors are length-prefixed with uint32.

var ErrShortBuffer = errors.New("raftpd: short buffer")

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) bytes(v []byte) {
	w.u32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) u8() uint8 {
	if r.err != nil || len(r.buf) < 1 {
		r.err = ErrShortBuffer
		return 0
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil || len(r.buf) < 4 {
		r.err = ErrShortBuffer
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil || len(r.buf) < 8 {
		r.err = ErrShortBuffer
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}

func (r *reader) boolean() bool {
	return r.u8() != 0
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil || uint32(len(r.buf)) < n {
		r.err = ErrShortBuffer
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[:n])
	r.buf = r.buf[n:]
	return v
}

func writeEntry(w *writer, e *Entry) {
	w.u64(e.Index)
	w.u64(e.Term)
	w.bytes(e.Data)
}

func readEntry(r *reader) Entry {
	var e Entry
	e.Index = r.u64()
	e.Term = r.u64()
	e.Data = r.bytes()
	if len(e.Data) == 0 {
		e.Data = nil
	}
	return e
}

// MarshalEntry encode a single log entry, it used by the
// storage layer as wal record payload.
func MarshalEntry(e *Entry) []byte {
	w := writer{}
	writeEntry(&w, e)
	return w.buf
}

func UnmarshalEntry(e *Entry, data []byte) error {
	r := reader{buf: data}
	*e = readEntry(&r)
	return r.err
}

func (a *RequestVoteArgs) Marshal() []byte {
	w := writer{}
	w.u64(a.Term)
	w.u64(a.CandidateID)
	w.u64(a.LastLogIndex)
	w.u64(a.LastLogTerm)
	return w.buf
}

func (a *RequestVoteArgs) Unmarshal(data []byte) error {
	r := reader{buf: data}
	a.Term = r.u64()
	a.CandidateID = r.u64()
	a.LastLogIndex = r.u64()
	a.LastLogTerm = r.u64()
	return r.err
}

func (a *RequestVoteReply) Marshal() []byte {
	w := writer{}
	w.u64(a.Term)
	w.boolean(a.Granted)
	return w.buf
}

func (a *RequestVoteReply) Unmarshal(data []byte) error {
	r := reader{buf: data}
	a.Term = r.u64()
	a.Granted = r.boolean()
	return r.err
}

func (a *AppendEntriesArgs) Marshal() []byte {
	w := writer{}
	w.u64(a.Term)
	w.u64(a.LeaderID)
	w.u64(a.PrevLogIndex)
	w.u64(a.PrevLogTerm)
	w.u32(uint32(len(a.Entries)))
	for i := 0; i < len(a.Entries); i++ {
		writeEntry(&w, &a.Entries[i])
	}
	w.u64(a.LeaderCommit)
	return w.buf
}

func (a *AppendEntriesArgs) Unmarshal(data []byte) error {
	r := reader{buf: data}
	a.Term = r.u64()
	a.LeaderID = r.u64()
	a.PrevLogIndex = r.u64()
	a.PrevLogTerm = r.u64()
	count := r.u32()
	a.Entries = nil
	for i := uint32(0); i < count && r.err == nil; i++ {
		a.Entries = append(a.Entries, readEntry(&r))
	}
	a.LeaderCommit = r.u64()
	return r.err
}

func (a *AppendEntriesReply) Marshal() []byte {
	w := writer{}
	w.u64(a.Term)
	w.boolean(a.Success)
	return w.buf
}

func (a *AppendEntriesReply) Unmarshal(data []byte) error {
	r := reader{buf: data}
	a.Term = r.u64()
	a.Success = r.boolean()
	return r.err
}

func (a *InstallSnapshotArgs) Marshal() []byte {
	w := writer{}
	w.u64(a.Term)
	w.u64(a.LeaderID)
	w.u64(a.LastIncludedIndex)
	w.u64(a.LastIncludedTerm)
	w.bytes(a.Snapshot)
	return w.buf
}

func (a *InstallSnapshotArgs) Unmarshal(data []byte) error {
	r := reader{buf: data}
	a.Term = r.u64()
	a.LeaderID = r.u64()
	a.LastIncludedIndex = r.u64()
	a.LastIncludedTerm = r.u64()
	a.Snapshot = r.bytes()
	if len(a.Snapshot) == 0 {
		a.Snapshot = nil
	}
	return r.err
}

func (a *InstallSnapshotReply) Marshal() []byte {
	w := writer{}
	w.u64(a.Term)
	return w.buf
}

func (a *InstallSnapshotReply) Unmarshal(data []byte) error {
	r := reader{buf: data}
	a.Term = r.u64()
	return r.err
}
