package core

import (
	"sync"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// topicImpl is a threadsafe in-memory call topic.
// It never closes adapter-owned resources.
type topicImpl struct {
	id    domain.CallID
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
}

func NewTopicService(id domain.CallID) TopicService {
	return &topicImpl{
		id:    id,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (t *topicImpl) CallID() domain.CallID { return t.id }

func (t *topicImpl) MemberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bySID)
}

func (t *topicImpl) AddMember(sid SessionID, ms MemberSession) {
	p := ms.Meta().Participant
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bySID[sid] = ms
	log.Info().Str("module", "core.topic").Str("call", string(t.id)).Str("sid", string(sid)).Str("participant", string(p)).Msg("member added")
}

func (t *topicImpl) RemoveMember(sid SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.bySID, sid)
	log.Info().Str("module", "core.topic").Str("call", string(t.id)).Str("sid", string(sid)).Msg("member removed")
}

// Broadcast fans data out to every member but the sender. Recipients filter by address.
func (t *topicImpl) Broadcast(from SessionID, data Frame) PublishResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range t.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.topic").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (t *topicImpl) MembersSnapshot() []MemberDTO {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]MemberDTO, 0, len(t.bySID))
	for _, ms := range t.bySID {
		out = append(out, MemberDTO{Participant: ms.Meta().Participant})
	}
	return out
}
