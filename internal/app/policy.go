package app

import (
	"fmt"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what the relay does with a member whose send buffer is full.
type Policy interface {
	OnBackPressure(topic core.TopicService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(topic core.TopicService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// OfferPolicy decides which side of a pair sends the first offer.
type OfferPolicy interface {
	Name() string
	ShouldOffer(self, remote domain.ParticipantID) bool
}

// OfferAll makes the caller offer to everyone. Callees accept and never offer,
// so the calls form a star around the initiator.
type OfferAll struct{}

func (OfferAll) Name() string                                   { return "all" }
func (OfferAll) ShouldOffer(self, remote domain.ParticipantID) bool { return self != remote }

// LowerIDOffers lets every participant initialize the call; for each pair only
// the lower id offers, which yields a full mesh without dual offers.
type LowerIDOffers struct{}

func (LowerIDOffers) Name() string                                   { return "lower_id" }
func (LowerIDOffers) ShouldOffer(self, remote domain.ParticipantID) bool { return self < remote }

func ParseOfferPolicy(name string) (OfferPolicy, error) {
	switch name {
	case "", "all":
		return OfferAll{}, nil
	case "lower_id":
		return LowerIDOffers{}, nil
	}
	return nil, fmt.Errorf("unknown offer policy %q", name)
}
