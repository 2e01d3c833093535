package domain

// Member represents one relay connection joined to a call topic.
// No transport or lifecycle logic here.
type Member struct {
	Participant ParticipantID `json:"participant"`
	ClientToken string        `json:"-"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(participant ParticipantID, clientToken string) *Member {
	return &Member{Participant: participant, ClientToken: clientToken}
}
