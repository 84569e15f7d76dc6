package mqlink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Manager tracks connected clients by socket identifier so that inbound
// packets read from a socket can be dispatched to their client.
//
// Clients are added when they connect and removed when they disconnect.
// All methods are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	clients map[SocketID]*Client

	opts    []Option
	logger  *slog.Logger
	metrics *Metrics
}

// NewManager returns an empty manager. The options are applied to every
// client created by Manager.Connect, before the options passed there.
func NewManager(opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Manager{
		clients: make(map[SocketID]*Client),
		opts:    opts,
		logger:  o.Logger.With("lib", "mqlink"),
		metrics: o.Metrics,
	}
}

// Connect dials server with the manager's options plus opts and registers
// the client once connected.
func (m *Manager) Connect(ctx context.Context, server string, opts ...Option) (*Client, error) {
	all := make([]Option, 0, len(m.opts)+len(opts))
	all = append(all, m.opts...)
	all = append(all, opts...)

	c, err := Dial(ctx, server, all...)
	if err != nil {
		return nil, err
	}
	if err := m.Insert(c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Insert registers c under its current socket identifier.
func (m *Manager) Insert(c *Client) error {
	id := c.SocketID()
	if id == "" {
		return ErrNotConnected
	}

	m.mu.Lock()
	m.clients[id] = c
	n := len(m.clients)
	m.mu.Unlock()

	// A client closed directly, not through Disconnect, still leaves.
	c.setUnregister(func(id SocketID) {
		m.removeClient(id, c)
	})

	m.metrics.SetRegistered(n)
	m.logger.Debug("client registered", "socket", id, "clients", n)
	return nil
}

// Lookup returns the client registered under id.
func (m *Manager) Lookup(id SocketID) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// Remove unregisters id. It reports whether id was registered.
func (m *Manager) Remove(id SocketID) bool {
	return m.removeClient(id, nil)
}

// removeClient unregisters id. A non-nil c must be the registered client.
func (m *Manager) removeClient(id SocketID, c *Client) bool {
	m.mu.Lock()
	registered, ok := m.clients[id]
	if ok && c != nil && registered != c {
		ok = false
	}
	if ok {
		delete(m.clients, id)
	}
	n := len(m.clients)
	m.mu.Unlock()

	if ok {
		m.metrics.SetRegistered(n)
		m.logger.Debug("client unregistered", "socket", id, "clients", n)
	}
	return ok
}

// Len returns the number of registered clients.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// HandlePingresp dispatches a PINGRESP read from socket id to its client,
// clearing the client's outstanding ping.
func (m *Manager) HandlePingresp(id SocketID) error {
	c, ok := m.Lookup(id)
	if !ok {
		return ErrUnknownSocket
	}
	c.HandlePingresp()
	return nil
}

// Disconnect unregisters c, then sends DISCONNECT and closes it.
func (m *Manager) Disconnect(ctx context.Context, c *Client) error {
	m.Remove(c.SocketID())
	return c.Disconnect(ctx)
}

// Close disconnects every registered client.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[SocketID]*Client)
	m.mu.Unlock()
	m.metrics.SetRegistered(0)

	var errs []error
	for _, c := range clients {
		if err := c.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
