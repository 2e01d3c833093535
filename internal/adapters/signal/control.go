package signal

import (
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// JoinedFrame tells a client its subscription is live.
type JoinedFrame struct {
	Type        string               `json:"type"`
	CallID      domain.CallID        `json:"callId"`
	Participant domain.ParticipantID `json:"participant"`
	Members     []core.MemberDTO     `json:"members"`
}

type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (ctl *SignalWSController) sendJoined(conn *WsSignalConn, callID domain.CallID, participant domain.ParticipantID) {
	ctl.sendJSON(conn, JoinedFrame{
		Type:        "joined",
		CallID:      callID,
		Participant: participant,
		Members:     ctl.Hub.Members(callID),
	})
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, code string) {
	ctl.sendJSON(conn, ErrorFrame{Type: "error", Error: code})
}

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}
