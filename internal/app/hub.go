package app

import (
	"errors"
	"sync"

	"github.com/dkeye/meshcall/internal/app/lifecycle"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownSession = errors.New("unknown session")

// Hub is the relay side of signaling: it keeps call topics in sync with the
// registry and forwards frames between members of the same call.
type Hub struct {
	Registry *Registry
	Topics   core.TopicManager
	Policy   Policy
	Recorder *lifecycle.Recorder

	// serializes topic creation and removal
	mu sync.Mutex
}

func NewHub(reg *Registry, topics core.TopicManager, policy Policy, rec *lifecycle.Recorder) *Hub {
	if rec == nil {
		rec = lifecycle.NewRecorder(nil)
	}
	return &Hub{Registry: reg, Topics: topics, Policy: policy, Recorder: rec}
}

// Join adds a bound session to its call topic. An older connection of the same
// participant is kicked first.
func (h *Hub) Join(sid core.SessionID) error {
	callID, sess, ok := h.Registry.CallOf(sid)
	if !ok {
		return ErrUnknownSession
	}
	participant := sess.Meta().Participant
	for _, snap := range h.Registry.MembersOfCall(callID) {
		if snap.SID != sid && snap.Session.Meta().Participant == participant {
			log.Info().Str("module", "app.hub").Str("sid", string(snap.SID)).Str("participant", string(participant)).Msg("replacing older connection")
			h.KickBySID(snap.SID)
		}
	}

	h.mu.Lock()
	_, existed := h.Topics.Get(callID)
	topic := h.Topics.GetOrCreate(callID)
	topic.AddMember(sid, sess)
	count := topic.MemberCount()
	h.mu.Unlock()

	if !existed {
		h.Recorder.CallStarted(callID, participant, "", []domain.ParticipantID{participant})
	} else {
		h.Recorder.ParticipantStatus(callID, participant, domain.ParticipantJoined)
	}
	if count == 2 {
		h.Recorder.CallStatus(callID, domain.CallActive)
	}
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("call", string(callID)).Int("members", count).Msg("joined call")
	return nil
}

// Leave removes a session for good. Safe to call for unknown sessions.
func (h *Hub) Leave(sid core.SessionID) {
	h.leave(sid, true)
}

func (h *Hub) OnFrame(sid core.SessionID, data core.Frame) {
	callID, _, ok := h.Registry.CallOf(sid)
	if !ok {
		return
	}
	topic, ok := h.Topics.Get(callID)
	if !ok {
		return
	}

	res := topic.Broadcast(sid, data)
	if h.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch h.Policy.OnBackPressure(topic, slow) {
		case KickMember:
			for _, snap := range h.Registry.MembersOfCall(callID) {
				if snap.Session == slow {
					h.KickBySID(snap.SID)
				}
			}
		case MarkSlow, DropFrame, NoAction:
		}
	}
}

// KickBySID disconnects a session without recording it as a departure.
func (h *Hub) KickBySID(sid core.SessionID) {
	h.Registry.Cancel(sid)
	h.leave(sid, false)
}

func (h *Hub) EvictCall(callID domain.CallID) {
	for _, snap := range h.Registry.MembersOfCall(callID) {
		h.KickBySID(snap.SID)
	}
	h.Topics.StopTopic(callID)
}

func (h *Hub) Members(callID domain.CallID) []core.MemberDTO {
	topic, ok := h.Topics.Get(callID)
	if !ok {
		return nil
	}
	return topic.MembersSnapshot()
}

func (h *Hub) leave(sid core.SessionID, record bool) {
	callID, sess, ok := h.Registry.CallOf(sid)
	if !ok {
		return
	}
	h.Registry.Unbind(sid)

	h.mu.Lock()
	ended := false
	if topic, ok := h.Topics.Get(callID); ok {
		topic.RemoveMember(sid)
		if topic.MemberCount() == 0 {
			h.Topics.StopTopic(callID)
			ended = true
		}
	}
	h.mu.Unlock()

	if record {
		h.Recorder.ParticipantStatus(callID, sess.Meta().Participant, domain.ParticipantLeft)
	}
	if ended {
		h.Recorder.CallStatus(callID, domain.CallEnded)
	}
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("call", string(callID)).Bool("ended", ended).Msg("left call")
}
