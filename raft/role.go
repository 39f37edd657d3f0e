package raft

// StateRole is the role a replica currently plays.
type StateRole int

const (
	RoleFollower StateRole = iota
	RoleCandidate
	RoleLeader
)

var stateRoleString = []string{
	"Follower",
	"Candidate",
	"Leader",
}

func (role StateRole) String() string {
	return stateRoleString[role]
}

func (role StateRole) IsLeader() bool {
	return role == RoleLeader
}

func (role StateRole) IsCandidate() bool {
	return role == RoleCandidate
}

func (role StateRole) IsFollower() bool {
	return role == RoleFollower
}
