package main

import (
	"fmt"
	"log"
	"sync"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// HubOptions configures a Hub
type HubOptions struct {
	Game              GameConfig
	MaxSessions       int
	MaxMessagesPerSec int
	PublicURL         string // base of invite links, empty derives it from the request
	DB                *DB    // nil disables account stats
	Auth              *Auth  // nil or secretless means guest mode
}

// Hub manages all connected clients and routes them to sessions
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	sessions   *SessionManager
	opts       HubOptions
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
	// Auth & DB
	db    *DB
	auth  *Auth
	stats *StatsRecorder
	// Online accounts: username -> *Client
	onlineMu    sync.RWMutex
	onlineUsers map[string]*Client
	done        chan struct{}
	closeOnce   sync.Once
}

// NewHub creates a Hub and provisions the default session
func NewHub(opts HubOptions) (*Hub, error) {
	if opts.MaxMessagesPerSec <= 0 {
		opts.MaxMessagesPerSec = defaultMessagesPerSec
	}
	h := &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		ipConns:     make(map[string]int),
		opts:        opts,
		db:          opts.DB,
		auth:        opts.Auth,
		onlineUsers: make(map[string]*Client),
		done:        make(chan struct{}),
	}
	deps := GameDeps{}
	if h.db != nil {
		h.stats = NewStatsRecorder(h.db, h.notifyAchievement)
		deps.Stats = h.stats
	}
	h.sessions = NewSessionManager(opts.Game, deps, opts.MaxSessions)
	if _, err := h.sessions.EnsureDefault(); err != nil {
		if h.stats != nil {
			h.stats.Stop()
		}
		return nil, fmt.Errorf("default session: %w", err)
	}
	return h, nil
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events until Close. Clients leave their
// session themselves before unregistering.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if !client.identity.Guest() {
				// One live connection per account, wherever the old one is
				if prev := h.SetOnline(client.identity.Username, client); prev != nil && prev != client {
					log.Printf("account %s reconnected, closing older connection", client.identity.Username)
					prev.sendError(ErrReplaced.Error())
					prev.Close()
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if !client.identity.Guest() {
				h.SetOffline(client.identity.Username, client)
			}

		case <-h.done:
			return
		}
	}
}

// Unregister hands a finished client to the hub loop. After Close nobody
// drains the channel, so it gives up instead of blocking.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Close stops the hub loop, every session and the stats writer
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.sessions.Shutdown()
		if h.stats != nil {
			h.stats.Stop()
		}
	})
}

// SetOnline marks an account as online on client and returns the connection
// it replaces, if any
func (h *Hub) SetOnline(username string, client *Client) *Client {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	prev := h.onlineUsers[username]
	h.onlineUsers[username] = client
	return prev
}

// SetOffline forgets an account unless a newer connection took over
func (h *Hub) SetOffline(username string, client *Client) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	if h.onlineUsers[username] == client {
		delete(h.onlineUsers, username)
	}
}

// GetOnlineClient returns the live connection of an account
func (h *Hub) GetOnlineClient(username string) *Client {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	return h.onlineUsers[username]
}

func (h *Hub) notifyAchievement(username string, def AchievementDef) {
	c := h.GetOnlineClient(username)
	if c == nil {
		return
	}
	c.Send(Envelope{T: MsgAchievement, Data: AchievementMsg{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
	}})
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
