package app

import (
	"context"
	"sync"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	CallID  domain.CallID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry tracks relay connections by session id, indexed per call.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	byCall   map[domain.CallID]map[core.SessionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		byCall:   make(map[domain.CallID]map[core.SessionID]struct{}),
	}
}

// BindSession registers a connection. Rebinding a sid moves it to callID.
func (r *Registry) BindSession(
	sid core.SessionID,
	callID domain.CallID,
	sess core.MemberSession,
	cancel context.CancelFunc,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(sid)
	r.sessions[sid] = &sessionEntry{
		CallID:  callID,
		Session: sess,
		Cancel:  cancel,
	}
	set, ok := r.byCall[callID]
	if !ok {
		set = make(map[core.SessionID]struct{})
		r.byCall[callID] = set
	}
	set[sid] = struct{}{}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("call", string(callID)).Msg("bound session")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropLocked(sid) {
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	}
}

func (r *Registry) dropLocked(sid core.SessionID) bool {
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	delete(r.sessions, sid)
	if set := r.byCall[e.CallID]; set != nil {
		delete(set, sid)
		if len(set) == 0 {
			delete(r.byCall, e.CallID)
		}
	}
	return true
}

func (r *Registry) CallOf(sid core.SessionID) (domain.CallID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return "", nil, false
	}
	return entry.CallID, entry.Session, true
}

type regSnap struct {
	SID     core.SessionID
	Session core.MemberSession
}

func (r *Registry) MembersOfCall(callID domain.CallID) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byCall[callID]
	out := make([]regSnap, 0, len(set))
	for sid := range set {
		out = append(out, regSnap{SID: sid, Session: r.sessions[sid].Session})
	}
	return out
}

// Cancel stops the connection's pumps. The entry stays until Unbind.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
