package transport

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/smallnest/rpcx/client"
	"github.com/smallnest/rpcx/server"

	"github.com/luoshicai/chfs-filesystem/raft"
	"github.com/luoshicai/chfs-filesystem/raft/proto"
)

const serviceName = "RaftService"
const serviceMethod = "Call"

// Payload frames one raft RPC on the wire: the fixed opcode plus
// the request encoded by the raftpd codec.
type Payload struct {
	Op   uint32
	Data []byte
}

// Reply carries the status kind and the encoded response.
type Reply struct {
	Status raftpd.Status
	Data   []byte
}

// Service exposes a replica's RPC surface over rpcx.
type Service struct {
	replica *raft.Replica
}

// Call dispatch on the opcode and serve the matching handler.
// Unknown opcodes answer NoEntity; undecodable bodies RpcError.
func (s *Service) Call(_ context.Context, args *Payload, reply *Reply) error {
	switch args.Op {
	case raftpd.OpRequestVote:
		var rvArgs raftpd.RequestVoteArgs
		if err := rvArgs.Unmarshal(args.Data); err != nil {
			reply.Status = raftpd.StatusRPCErr
			return nil
		}
		var rvReply raftpd.RequestVoteReply
		s.replica.RequestVote(&rvArgs, &rvReply)
		reply.Status = raftpd.StatusOK
		reply.Data = rvReply.Marshal()

	case raftpd.OpAppendEntries:
		var aeArgs raftpd.AppendEntriesArgs
		if err := aeArgs.Unmarshal(args.Data); err != nil {
			reply.Status = raftpd.StatusRPCErr
			return nil
		}
		var aeReply raftpd.AppendEntriesReply
		s.replica.AppendEntries(&aeArgs, &aeReply)
		reply.Status = raftpd.StatusOK
		reply.Data = aeReply.Marshal()

	case raftpd.OpInstallSnapshot:
		var isArgs raftpd.InstallSnapshotArgs
		if err := isArgs.Unmarshal(args.Data); err != nil {
			reply.Status = raftpd.StatusRPCErr
			return nil
		}
		var isReply raftpd.InstallSnapshotReply
		s.replica.InstallSnapshot(&isArgs, &isReply)
		reply.Status = raftpd.StatusOK
		reply.Data = isReply.Marshal()

	default:
		reply.Status = raftpd.StatusNoEntity
	}
	return nil
}

// Server wraps an rpcx server bound to one replica.
type Server struct {
	srv  *server.Server
	addr string
}

// MakeServer register the replica's RPC surface. Serve blocks, so
// callers run it on its own goroutine.
func MakeServer(addr string, replica *raft.Replica) (*Server, error) {
	srv := server.NewServer()
	if err := srv.RegisterName(serviceName, &Service{replica: replica}, ""); err != nil {
		return nil, err
	}
	return &Server{srv: srv, addr: addr}, nil
}

func (s *Server) Serve() error {
	return s.srv.Serve("tcp", s.addr)
}

func (s *Server) Close() error {
	return s.srv.Close()
}

// Client implements raft.Transport over one rpcx XClient per peer.
type Client struct {
	peers map[uint64]client.XClient
}

// MakeClient dial every remote peer. addrs maps node id to
// host:port; the local id is skipped.
func MakeClient(local uint64, addrs map[uint64]string) (*Client, error) {
	peers := make(map[uint64]client.XClient)
	for id, addr := range addrs {
		if id == local {
			continue
		}
		d, err := client.NewPeer2PeerDiscovery("tcp@"+addr, "")
		if err != nil {
			for _, xc := range peers {
				xc.Close()
			}
			return nil, err
		}
		peers[id] = client.NewXClient(serviceName,
			client.Failtry, client.RandomSelect, d, client.DefaultOption)
	}
	return &Client{peers: peers}, nil
}

func (c *Client) Close() {
	for _, xc := range c.peers {
		xc.Close()
	}
}

func (c *Client) call(to uint64, op uint32, body []byte) ([]byte, bool) {
	xc, ok := c.peers[to]
	if !ok {
		log.Errorf("transport: unknown peer %d", to)
		return nil, false
	}

	args := Payload{Op: op, Data: body}
	var reply Reply
	if err := xc.Call(context.Background(), serviceMethod, &args, &reply); err != nil {
		log.Debugf("transport: call %d op %#x: %v", to, op, err)
		return nil, false
	}
	if reply.Status != raftpd.StatusOK {
		log.Debugf("transport: call %d op %#x status %v", to, op, reply.Status)
		return nil, false
	}
	return reply.Data, true
}

func (c *Client) RequestVote(to uint64,
	args *raftpd.RequestVoteArgs, reply *raftpd.RequestVoteReply) bool {
	data, ok := c.call(to, raftpd.OpRequestVote, args.Marshal())
	return ok && reply.Unmarshal(data) == nil
}

func (c *Client) AppendEntries(to uint64,
	args *raftpd.AppendEntriesArgs, reply *raftpd.AppendEntriesReply) bool {
	data, ok := c.call(to, raftpd.OpAppendEntries, args.Marshal())
	return ok && reply.Unmarshal(data) == nil
}

func (c *Client) InstallSnapshot(to uint64,
	args *raftpd.InstallSnapshotArgs, reply *raftpd.InstallSnapshotReply) bool {
	data, ok := c.call(to, raftpd.OpInstallSnapshot, args.Marshal())
	return ok && reply.Unmarshal(data) == nil
}
