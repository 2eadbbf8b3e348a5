package client

import (
	"context"
	"errors"
	"sync"

	"github.com/TheMichaelB/vaultkeys/internal/events"
)

// Factory builds the client of an instance.
type Factory func() (*Client, error)

// Registry keeps at most one client per instance.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Get returns the client of instance, building it with factory the first
// time. A failed build is not remembered.
func (r *Registry) Get(instance string, factory Factory) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[instance]; ok {
		return c, nil
	}
	c, err := factory()
	if err != nil {
		return nil, err
	}
	r.clients[instance] = c
	return c, nil
}

// Release forgets and closes the client of instance.
func (r *Registry) Release(instance string) error {
	r.mu.Lock()
	c, ok := r.clients[instance]
	delete(r.clients, instance)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

// Len returns the number of clients held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close releases every client.
func (r *Registry) Close() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	var errs []error
	for _, c := range clients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Provider tracks the lock state of a client.
type Provider struct {
	client *Client
	subs   []*events.Subscription

	mu       sync.Mutex
	locked   bool
	onChange []func(locked bool)
}

// NewProvider reads the lock state of client and follows it.
func NewProvider(ctx context.Context, client *Client) *Provider {
	p := &Provider{client: client, locked: client.IsLocked(ctx)}
	for _, name := range []events.EventName{events.EventUnlock, events.EventLock, events.EventLogin} {
		p.subs = append(p.subs, client.Events().Subscribe(name, p.refresh))
	}
	return p
}

// Client returns the tracked client.
func (p *Provider) Client() *Client {
	return p.client
}

// Locked returns the last known lock state.
func (p *Provider) Locked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

// OnChange registers fn, called when the lock state flips.
func (p *Provider) OnChange(fn func(locked bool)) {
	p.mu.Lock()
	p.onChange = append(p.onChange, fn)
	p.mu.Unlock()
}

// Close stops following the client.
func (p *Provider) Close() {
	for _, s := range p.subs {
		s.Unsubscribe()
	}
}

func (p *Provider) refresh(events.Event) {
	locked := p.client.IsLocked(context.Background())

	p.mu.Lock()
	changed := locked != p.locked
	p.locked = locked
	callbacks := append([]func(bool){}, p.onChange...)
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range callbacks {
		fn(locked)
	}
}
