package orch

import (
	"github.com/dkeye/meshcall/internal/app/peer"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// RemoteStream is the latest media stream received from one participant.
type RemoteStream struct {
	Participant domain.ParticipantID
	StreamID    string
	Tracks      []core.RemoteTrack
}

// RemoteStreamSet maps each remote participant to its most recent stream.
type RemoteStreamSet map[domain.ParticipantID]RemoteStream

func (s RemoteStreamSet) clone() RemoteStreamSet {
	out := make(RemoteStreamSet, len(s))
	for id, st := range s {
		st.Tracks = append([]core.RemoteTrack(nil), st.Tracks...)
		out[id] = st
	}
	return out
}

// add records track and returns the updated stream. A track from a new stream
// id replaces whatever was kept for the participant.
func (s RemoteStreamSet) add(remote domain.ParticipantID, track core.RemoteTrack) RemoteStream {
	st, ok := s[remote]
	if !ok || st.StreamID != track.StreamID() {
		st = RemoteStream{Participant: remote, StreamID: track.StreamID()}
	}
	st.Tracks = append(append([]core.RemoteTrack(nil), st.Tracks...), track)
	s[remote] = st
	return st
}

type EventKind string

const (
	EventPeerState       EventKind = "peer_state"
	EventTrackAdded      EventKind = "track_added"
	EventStreamRemoved   EventKind = "stream_removed"
	EventPeerFailed      EventKind = "peer_failed"
	EventParticipantLeft EventKind = "participant_left"
	EventCallEnded       EventKind = "call_ended"
)

// Event is a notification for whoever renders the call.
type Event struct {
	Kind        EventKind
	CallID      domain.CallID
	Participant domain.ParticipantID
	Peer        peer.Snapshot
	Track       core.RemoteTrack
	Err         error
}
