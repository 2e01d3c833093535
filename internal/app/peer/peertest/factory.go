package peertest

import (
	"context"
	"sync"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// Factory hands out Conns and remembers them per remote participant.
type Factory struct {
	Owner domain.ParticipantID
	// Err, when set, fails every NewConnection.
	Err error
	// Prepare runs on each new Conn before it is returned.
	Prepare func(*Conn)

	mu    sync.Mutex
	conns map[domain.ParticipantID][]*Conn
}

func NewFactory(owner domain.ParticipantID) *Factory {
	return &Factory{Owner: owner, conns: make(map[domain.ParticipantID][]*Conn)}
}

func (f *Factory) NewConnection(ctx context.Context, remote domain.ParticipantID) (core.MediaConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewConn(f.Owner, remote)
	if f.Prepare != nil {
		f.Prepare(c)
	}
	f.mu.Lock()
	f.conns[remote] = append(f.conns[remote], c)
	f.mu.Unlock()
	return c, nil
}

// Conn returns the latest connection made towards remote.
func (f *Factory) Conn(remote domain.ParticipantID) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.conns[remote]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Count is the number of connections made, across all remotes.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, list := range f.conns {
		n += len(list)
	}
	return n
}

func (f *Factory) All() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Conn
	for _, list := range f.conns {
		out = append(out, list...)
	}
	return out
}
