package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageValidate(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	base := Message{CallID: "c1", From: "a", To: "b"}

	cases := []struct {
		name string
		mut  func(m *Message)
		ok   bool
	}{
		{"offer", func(m *Message) { m.Kind = KindOffer; m.SDP = "v=0" }, true},
		{"answer without sdp", func(m *Message) { m.Kind = KindAnswer }, false},
		{"candidate", func(m *Message) {
			m.Kind = KindCandidate
			m.Candidate = &webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &idx}
		}, true},
		{"empty candidate", func(m *Message) { m.Kind = KindCandidate; m.Candidate = &webrtc.ICECandidateInit{} }, false},
		{"bye", func(m *Message) { m.Kind = KindBye }, true},
		{"unknown", func(m *Message) { m.Kind = "join" }, false},
		{"missing to", func(m *Message) { m.Kind = KindBye; m.To = "" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := base
			tc.mut(&m)
			err := m.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			}
		})
	}
}

func TestMessageWireFormat(t *testing.T) {
	mid := "audio"
	idx := uint16(1)
	m := Message{
		Kind:      KindCandidate,
		CallID:    "c1",
		From:      "a",
		To:        "b",
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "ice-candidate", raw["type"])
	assert.Equal(t, "c1", raw["callId"])
	cand, ok := raw["candidate"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "audio", cand["sdpMid"])
	assert.EqualValues(t, 1, cand["sdpMLineIndex"])
	assert.NotContains(t, raw, "sdp")
}

func TestMessageDescription(t *testing.T) {
	assert.Equal(t, webrtc.SDPTypeOffer, Message{Kind: KindOffer, SDP: "x"}.Description().Type)
	assert.Equal(t, webrtc.SDPTypeAnswer, Message{Kind: KindAnswer, SDP: "x"}.Description().Type)
}

func TestMediaError(t *testing.T) {
	cause := errors.New("NotAllowedError")
	var err error = &MediaError{Reason: MediaDenied, Video: true, Err: cause}

	assert.ErrorIs(t, err, ErrMediaAcquisition)
	assert.ErrorIs(t, err, cause)

	var me *MediaError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "camera access denied", me.UserMessage())

	mic := &MediaError{Reason: MediaUnavailable, Err: cause}
	assert.Equal(t, "microphone unavailable", mic.UserMessage())
}
