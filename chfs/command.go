package chfs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CommandType enumerate the file-system operations that flow
// through the replicated log. Reads are replicated too: applying a
// Get refreshes the inode's access time on every replica, each from
// its own clock; applying a GetAttr changes nothing.
type CommandType uint32

const (
	CmdNone CommandType = iota
	CmdCreate
	CmdPut
	CmdGet
	CmdGetAttr
	CmdRemove
)

var commandTypeString = []string{
	"None",
	"Create",
	"Put",
	"Get",
	"GetAttr",
	"Remove",
}

func (t CommandType) String() string {
	if int(t) >= len(commandTypeString) {
		return fmt.Sprintf("CommandType(%d)", uint32(t))
	}
	return commandTypeString[t]
}

// File types stored in an inode's attributes.
const (
	TypeFile uint32 = 1
	TypeDir  uint32 = 2
)

var ErrBadCommand = errors.New("chfs: bad command encoding")

// Command is one file-system operation. It carries the target
// inode id, the inode type for Create, and the content for Put.
type Command struct {
	Type     CommandType
	FileType uint32
	ID       uint64
	Buf      []byte
}

const commandHeaderSize = 4 + 4 + 8 + 4

// Size return the stable byte size of the serialized command.
func (c *Command) Size() int {
	return commandHeaderSize + len(c.Buf)
}

// MarshalTo serialize the command into the caller-provided region,
// which must be at least Size() bytes.
func (c *Command) MarshalTo(buf []byte) {
	binary.BigEndian.PutUint32(buf, uint32(c.Type))
	binary.BigEndian.PutUint32(buf[4:], c.FileType)
	binary.BigEndian.PutUint64(buf[8:], c.ID)
	binary.BigEndian.PutUint32(buf[16:], uint32(len(c.Buf)))
	copy(buf[commandHeaderSize:], c.Buf)
}

// Unmarshal deserialize a command from the region.
func (c *Command) Unmarshal(buf []byte) error {
	if len(buf) < commandHeaderSize {
		return ErrBadCommand
	}
	c.Type = CommandType(binary.BigEndian.Uint32(buf))
	c.FileType = binary.BigEndian.Uint32(buf[4:])
	c.ID = binary.BigEndian.Uint64(buf[8:])
	size := binary.BigEndian.Uint32(buf[16:])
	if uint32(len(buf)-commandHeaderSize) < size {
		return ErrBadCommand
	}
	if size == 0 {
		c.Buf = nil
		return nil
	}
	c.Buf = make([]byte, size)
	copy(c.Buf, buf[commandHeaderSize:])
	return nil
}
