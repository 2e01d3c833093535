package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type TrackStats struct {
	Participant domain.ParticipantID `json:"participant"`
	TrackID     string               `json:"track_id"`
	Kind        string               `json:"kind"`
	Packets     uint64               `json:"packets"`
	Bytes       uint64               `json:"bytes"`
	Done        bool                 `json:"done"`
}

type sinkEntry struct {
	participant domain.ParticipantID
	track       core.RemoteTrack
	packets     atomic.Uint64
	bytes       atomic.Uint64
	done        atomic.Bool
}

// Sink drains remote tracks so their buffers never stall, counting what arrives.
type Sink struct {
	mu      sync.RWMutex
	entries map[string]*sinkEntry
	wg      sync.WaitGroup
}

func NewSink() *Sink {
	return &Sink{entries: make(map[string]*sinkEntry)}
}

// Consume starts a read loop for track that ends when the track or ctx ends.
func (s *Sink) Consume(ctx context.Context, participant domain.ParticipantID, track core.RemoteTrack) {
	key := string(participant) + "/" + track.ID()
	e := &sinkEntry{participant: participant, track: track}

	s.mu.Lock()
	if old, ok := s.entries[key]; ok && !old.done.Load() {
		s.mu.Unlock()
		return
	}
	s.entries[key] = e
	s.mu.Unlock()

	logger := log.With().
		Str("module", "media.sink").
		Str("participant", string(participant)).
		Str("track", track.ID()).
		Logger()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, e, &logger)
	}()
}

// loop reads RTP packets until the track ends.
func (s *Sink) loop(ctx context.Context, e *sinkEntry, logger *zerolog.Logger) {
	defer e.done.Store(true)
	logger.Info().Str("kind", e.track.Kind().String()).Msg("sink loop started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := e.track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Uint64("packets", e.packets.Load()).Msg("sink read ended")
			return
		}
		e.packets.Add(1)
		e.bytes.Add(uint64(len(pkt.Payload)))
	}
}

func (s *Sink) Stats() []TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrackStats, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, TrackStats{
			Participant: e.participant,
			TrackID:     e.track.ID(),
			Kind:        e.track.Kind().String(),
			Packets:     e.packets.Load(),
			Bytes:       e.bytes.Load(),
			Done:        e.done.Load(),
		})
	}
	return out
}

// Wait blocks until every read loop has returned.
func (s *Sink) Wait() { s.wg.Wait() }
