package thermostat

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry resolves device addresses to running clients, backing service
// surfaces (like set_location) that target devices by BLE address.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Register adds a client; a second client for the same address replaces the
// first.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[normalizeAddress(c.Address())] = c
}

// Lookup returns the client bound to the address.
func (r *Registry) Lookup(address string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[normalizeAddress(address)]
	if !ok {
		return nil, fmt.Errorf("no thermostat registered for address %q", address)
	}
	return c, nil
}

// SetLocation resolves the target device by address, validates the
// coordinate pair, and queues the location command on that device.
func (r *Registry) SetLocation(ctx context.Context, address string, latitude, longitude float64) error {
	c, err := r.Lookup(address)
	if err != nil {
		return err
	}
	return c.SetLocation(ctx, latitude, longitude)
}
