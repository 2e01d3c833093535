// Package lifecycle feeds call and participant status changes into a CallStore.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	queueSize    = 128
	writeTimeout = 5 * time.Second
)

type op struct {
	name string
	call domain.CallID
	run  func(ctx context.Context, store core.CallStore) error
}

// Recorder applies updates one by one on its own goroutine, in the order they
// were recorded. Store failures are logged and never reach the caller.
// A Recorder with a nil store discards everything.
type Recorder struct {
	store  core.CallStore
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan op
	done   chan struct{}
}

func NewRecorder(store core.CallStore) *Recorder {
	r := &Recorder{
		store:  store,
		logger: log.With().Str("module", "app.lifecycle").Logger(),
		now:    time.Now,
		queue:  make(chan op, queueSize),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) CallStarted(id domain.CallID, initiator domain.ParticipantID, kind domain.MediaKind, participants []domain.ParticipantID) {
	at := r.now()
	rec := domain.CallRecord{
		ID:        id,
		Initiator: initiator,
		Kind:      kind,
		Status:    domain.CallRinging,
		StartedAt: at,
	}
	for _, p := range participants {
		status := domain.ParticipantInvited
		if p == initiator {
			status = domain.ParticipantJoined
		}
		rec.Participants = append(rec.Participants, domain.ParticipantRecord{ID: p, Status: status, UpdatedAt: at})
	}
	r.enqueue(op{name: "create call", call: id, run: func(ctx context.Context, s core.CallStore) error {
		return s.CreateCall(ctx, rec)
	}})
}

func (r *Recorder) CallStatus(id domain.CallID, status domain.CallStatus) {
	at := r.now()
	r.enqueue(op{name: "call status " + string(status), call: id, run: func(ctx context.Context, s core.CallStore) error {
		return s.UpdateCallStatus(ctx, id, status, at)
	}})
}

func (r *Recorder) ParticipantStatus(id domain.CallID, participant domain.ParticipantID, status domain.ParticipantStatus) {
	at := r.now()
	r.enqueue(op{name: "participant " + string(status), call: id, run: func(ctx context.Context, s core.CallStore) error {
		return s.SetParticipantStatus(ctx, id, participant, status, at)
	}})
}

// Close flushes queued updates and stops the worker. Later updates are dropped.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) enqueue(o op) {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Debug().Str("op", o.name).Str("call", string(o.call)).Msg("recorder closed, update dropped")
		return
	}
	select {
	case r.queue <- o:
	default:
		r.logger.Warn().Str("op", o.name).Str("call", string(o.call)).Msg("recorder queue full, update dropped")
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for o := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := o.run(ctx, r.store); err != nil {
			r.logger.Warn().Err(err).Str("op", o.name).Str("call", string(o.call)).Msg("store update failed")
		}
		cancel()
	}
}
