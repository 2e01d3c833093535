package core

import "github.com/dkeye/meshcall/internal/domain"

type SessionID string

// MemberSession binds domain.Member and its relay connection.
// This is what a topic stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	Participant domain.ParticipantID `json:"participant"`
}

// TopicService is the relay's view of one call topic.
// It owns the membership set but never touches transport resources.
type TopicService interface {
	CallID() domain.CallID
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	Broadcast(from SessionID, data Frame) PublishResult
}

type TopicInfo struct {
	CallID      domain.CallID `json:"call_id"`
	MemberCount int           `json:"member_count"`
}

type TopicManager interface {
	GetOrCreate(id domain.CallID) TopicService
	Get(id domain.CallID) (TopicService, bool)
	List() []TopicInfo
	StopTopic(id domain.CallID)
}
