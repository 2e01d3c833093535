package peer

import "github.com/dkeye/meshcall/internal/domain"

type State int

const (
	Idle State = iota
	Offering
	AwaitingAnswer
	Connecting
	Connected
	Failed
	Closed
)

var stateNames = [...]string{"idle", "offering", "awaiting_answer", "connecting", "connected", "failed", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Role records which side offered the current session. Only the offerer sends ICE restarts.
type Role int

const (
	RoleNone Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	}
	return "none"
}

// Snapshot is a consistent read-only copy of a link.
type Snapshot struct {
	Remote      domain.ParticipantID `json:"remote"`
	State       State                `json:"-"`
	StateName   string               `json:"state"`
	Role        string               `json:"role"`
	Restarting  bool                 `json:"restarting"`
	Restarts    int                  `json:"restarts"`
	Terminal    bool                 `json:"terminal"`
	LocalEpoch  uint32               `json:"local_epoch"`
	RemoteEpoch uint32               `json:"remote_epoch"`
	Applied     int                  `json:"candidates_applied"`
	Buffered    int                  `json:"candidates_buffered"`
	Tracks      int                  `json:"tracks"`
}
