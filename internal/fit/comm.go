package fit

import (
	"context"
	"fmt"
	"sync"
)

// Comm is the execution context of one participant in a fit. Only rank 0
// touches the filesystem; the others wait on Barrier and receive paths and
// status through Broadcast.
type Comm interface {
	Rank() int
	Size() int
	// Barrier blocks until every participant has called it.
	Barrier(ctx context.Context) error
	// Broadcast returns root's payload on every participant. Non-root
	// participants pass nil.
	Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error)
}

type solo struct{}

// Solo is the context of a single-participant fit; Barrier and Broadcast
// return immediately.
func Solo() Comm { return solo{} }

func (solo) Rank() int { return 0 }

func (solo) Size() int { return 1 }

func (solo) Barrier(ctx context.Context) error { return ctx.Err() }

func (solo) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	if root != 0 {
		return nil, fmt.Errorf("broadcast root %d out of range for 1 participant", root)
	}
	return payload, ctx.Err()
}

// localGroup is shared by the participants of NewLocalGroup. A participant
// that gives up on a cancelled context leaves the group unusable.
type localGroup struct {
	size int

	mu      sync.Mutex
	waiting int
	release chan struct{}
	payload []byte
}

type localComm struct {
	rank  int
	group *localGroup
}

// NewLocalGroup returns n in-process participants sharing one cyclic
// barrier, indexed by rank.
func NewLocalGroup(n int) []Comm {
	if n < 1 {
		n = 1
	}
	g := &localGroup{size: n, release: make(chan struct{})}
	out := make([]Comm, n)
	for i := range out {
		out[i] = &localComm{rank: i, group: g}
	}
	return out
}

func (c *localComm) Rank() int { return c.rank }

func (c *localComm) Size() int { return c.group.size }

func (c *localComm) Barrier(ctx context.Context) error {
	g := c.group
	g.mu.Lock()
	ch := g.release
	g.waiting++
	if g.waiting == g.size {
		g.waiting = 0
		g.release = make(chan struct{})
		close(ch)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *localComm) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	g := c.group
	if root < 0 || root >= g.size {
		return nil, fmt.Errorf("broadcast root %d out of range for %d participants", root, g.size)
	}
	if c.rank == root {
		g.mu.Lock()
		g.payload = append([]byte(nil), payload...)
		g.mu.Unlock()
	}
	if err := c.Barrier(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	out := append([]byte(nil), g.payload...)
	g.mu.Unlock()
	// keep root from overwriting the payload before everyone has read it
	if err := c.Barrier(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
