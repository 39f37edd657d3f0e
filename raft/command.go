package raft

// Command is an application command carried by log entries. A
// command knows its stable byte size and serializes into a
// caller-provided region.
type Command interface {
	Size() int
	MarshalTo(buf []byte)
	Unmarshal(buf []byte) error
}

// StateMachine is the application above the replica. Apply receives
// committed command bytes in strictly increasing log order; Snapshot
// and ApplySnapshot exchange an opaque image of the whole state.
// All three are invoked while the replica mutex is held.
type StateMachine interface {
	Apply(cmd []byte)
	Snapshot() []byte
	ApplySnapshot(data []byte)
}
