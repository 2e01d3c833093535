package loopback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (i *inbox) add(m core.Message) {
	i.mu.Lock()
	i.msgs = append(i.msgs, m)
	i.mu.Unlock()
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.msgs)
}

func TestBusDeliversOnlyToAddressee(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a, b, c := bus.Endpoint(), bus.Endpoint(), bus.Endpoint()
	var inA, inB, inC inbox
	require.NoError(t, a.Subscribe(ctx, "call", "a", inA.add))
	require.NoError(t, b.Subscribe(ctx, "call", "b", inB.add))
	require.NoError(t, c.Subscribe(ctx, "call", "c", inC.add))
	assert.Equal(t, 3, bus.Subscribers("call"))

	require.NoError(t, a.Send(ctx, core.Message{Kind: core.KindBye, CallID: "call", From: "a", To: "b"}))
	require.NoError(t, a.Send(ctx, core.Message{Kind: core.KindBye, CallID: "call", From: "a", To: "a"}))

	assert.Eventually(t, func() bool { return inB.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, inA.len(), "sender never hears itself")
	assert.Equal(t, 0, inC.len())
	assert.Len(t, bus.Sent(), 2)
}

func TestBusInterceptDropsAndDuplicates(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a, b := bus.Endpoint(), bus.Endpoint()
	var inB inbox
	require.NoError(t, a.Subscribe(ctx, "call", "a", func(core.Message) {}))
	require.NoError(t, b.Subscribe(ctx, "call", "b", inB.add))

	bus.Intercept(func(m core.Message) []core.Message {
		if m.Kind == core.KindOffer {
			return nil
		}
		return []core.Message{m, m}
	})
	require.NoError(t, a.Send(ctx, core.Message{Kind: core.KindOffer, CallID: "call", From: "a", To: "b", SDP: "x"}))
	require.NoError(t, a.Send(ctx, core.Message{Kind: core.KindAnswer, CallID: "call", From: "a", To: "b", SDP: "y"}))

	assert.Eventually(t, func() bool { return inB.len() == 2 }, time.Second, 5*time.Millisecond)
	inB.mu.Lock()
	defer inB.mu.Unlock()
	for _, m := range inB.msgs {
		assert.Equal(t, core.KindAnswer, m.Kind)
	}
}

func TestTransportLifecycle(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a := bus.Endpoint()

	err := a.Send(ctx, core.Message{Kind: core.KindBye, CallID: "call", From: "a", To: "b"})
	assert.ErrorIs(t, err, core.ErrNotSubscribed)

	boom := errors.New("channel error")
	a.FailSubscribe(boom)
	assert.ErrorIs(t, a.Subscribe(ctx, "call", "a", func(core.Message) {}), boom)
	assert.Equal(t, 0, bus.Subscribers("call"))

	a.FailSubscribe(nil)
	require.NoError(t, a.Subscribe(ctx, "call", "a", func(core.Message) {}))
	require.NoError(t, a.Unsubscribe("call"))
	require.NoError(t, a.Unsubscribe("call"))
	assert.Equal(t, 0, bus.Subscribers("call"))
}
