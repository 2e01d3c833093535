package orch

import (
	"context"

	"github.com/dkeye/meshcall/internal/app/peer"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/sourcegraph/conc"
)

// session is one call. Its fields are guarded by Orchestrator.mu.
type session struct {
	gen       uint64
	callID    domain.CallID
	kind      domain.MediaKind
	initiator bool

	media      core.LocalMedia
	subscribed bool
	links      *linkRegistry
	departed   map[domain.ParticipantID]struct{}
	joined     map[domain.ParticipantID]struct{}
	active     bool

	ctx         context.Context
	cancel      context.CancelFunc
	cancelOffer context.CancelFunc
	stopWatch   func() bool
	offers      *conc.WaitGroup
}

func newSession(gen uint64, callID domain.CallID, kind domain.MediaKind, initiator bool) *session {
	return &session{
		gen:       gen,
		callID:    callID,
		kind:      kind,
		initiator: initiator,
		links:     newLinkRegistry(),
		departed:  make(map[domain.ParticipantID]struct{}),
		joined:    make(map[domain.ParticipantID]struct{}),
	}
}

// linkRegistry holds at most one link per remote participant.
type linkRegistry struct {
	byID  map[domain.ParticipantID]*peer.Link
	order []domain.ParticipantID
}

func newLinkRegistry() *linkRegistry {
	return &linkRegistry{byID: make(map[domain.ParticipantID]*peer.Link)}
}

// getOrCreate returns the existing link for id or registers the one made by create.
func (r *linkRegistry) getOrCreate(id domain.ParticipantID, create func() *peer.Link) (*peer.Link, bool) {
	if l, ok := r.byID[id]; ok {
		return l, false
	}
	l := create()
	r.byID[id] = l
	r.order = append(r.order, id)
	return l, true
}

func (r *linkRegistry) remove(id domain.ParticipantID) *peer.Link {
	l, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return l
}

// holds reports whether l is still the registered link for its remote.
func (r *linkRegistry) holds(l *peer.Link) bool {
	return l != nil && r.byID[l.Remote()] == l
}

// all returns links in creation order.
func (r *linkRegistry) all() []*peer.Link {
	out := make([]*peer.Link, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *linkRegistry) drain() []*peer.Link {
	out := r.all()
	r.byID = make(map[domain.ParticipantID]*peer.Link)
	r.order = nil
	return out
}
