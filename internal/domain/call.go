package domain

import "time"

type CallID string

func ParseCallID(raw string) (CallID, error) {
	id, err := parseID(raw)
	return CallID(id), err
}

type MediaKind string

const (
	MediaAudio      MediaKind = "audio"
	MediaAudioVideo MediaKind = "audio_video"
)

func (k MediaKind) WantsVideo() bool { return k == MediaAudioVideo }

type CallStatus string

const (
	CallRinging CallStatus = "ringing"
	CallActive  CallStatus = "active"
	CallEnded   CallStatus = "ended"
)

type CallRecord struct {
	ID           CallID              `json:"id"`
	Initiator    ParticipantID       `json:"initiator"`
	Kind         MediaKind           `json:"kind"`
	Status       CallStatus          `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	EndedAt      *time.Time          `json:"ended_at,omitempty"`
	Participants []ParticipantRecord `json:"participants"`
}

type ParticipantRecord struct {
	ID        ParticipantID     `json:"id"`
	Status    ParticipantStatus `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
}
