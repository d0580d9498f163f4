package main

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait             = 10 * time.Second
	pongWait              = 60 * time.Second
	pingPeriod            = (pongWait * 9) / 10
	maxMessageSize        = 4096
	sendBufSize           = 256
	defaultMessagesPerSec = 120
	maxNameLen            = 16
	maxAvatarLen          = 64
)

// Client represents a WebSocket connection. Only ReadPump touches
// playerID and sessionID.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	codec      Codec
	limiter    *rate.Limiter
	identity   Identity
	playerID   string
	sessionID  string
	remoteAddr string
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, codec Codec, identity Identity) *Client {
	perSec := hub.opts.MaxMessagesPerSec
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		codec:      codec,
		limiter:    rate.NewLimiter(rate.Limit(perSec), perSec),
		identity:   identity,
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	ctx := context.Background()
	defer func() {
		c.leaveSession(ctx)
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(ctx, message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := c.codec.FrameType()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(frameType, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send encodes msg in the connection's codec and queues it without blocking
func (c *Client) Send(msg Envelope) {
	data, err := c.codec.Encode(msg)
	if err != nil {
		log.Printf("encode error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-encoded bytes for the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// Close drops the connection; ReadPump then cleans up
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) sendError(msg string) {
	c.Send(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// game returns the game the client has joined, if any
func (c *Client) game() *Game {
	if c.sessionID == "" || c.playerID == "" {
		return nil
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return nil
	}
	return sess.Game
}

func (c *Client) touch() {
	if g := c.game(); g != nil {
		g.Touch(c.playerID)
	}
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	env, err := c.codec.DecodeEnvelope(raw)
	if err != nil {
		log.Printf("decode error from %s: %v", c.remoteAddr, err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env)
	case MsgCheck:
		c.handleCheck(env)
	case MsgJoin:
		c.handleJoin(ctx, env)
	case MsgMove:
		c.handleMove(env)
	case MsgTag:
		c.handleTag(ctx, env)
	case MsgGetLeaderboard:
		c.handleGetLeaderboard()
	case MsgLeave:
		c.leaveSession(ctx)
	case MsgProfile:
		c.handleProfile()
	default:
		log.Printf("unknown message type %q from %s", env.T, c.remoteAddr)
	}
}

func (c *Client) handleList() {
	sessions := c.hub.sessions.ListSessions()
	c.Send(Envelope{T: MsgSessions, Data: sessions})
}

func (c *Client) handleCreate(env InEnvelope) {
	var sname string
	if len(env.D) > 0 {
		msg, err := DecodePayload[CreateMsg](c.codec, env)
		if err != nil {
			return
		}
		sname = msg.SessionName
	}
	sess, err := c.hub.sessions.CreateSession(sname)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.Send(Envelope{T: MsgCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleCheck(env InEnvelope) {
	msg, err := DecodePayload[CheckMsg](c.codec, env)
	if err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SID)
	if sess == nil {
		c.Send(Envelope{T: MsgChecked, Data: CheckedMsg{SID: msg.SID, Exists: false}})
		return
	}
	c.Send(Envelope{T: MsgChecked, Data: CheckedMsg{
		SID:     msg.SID,
		Exists:  true,
		Name:    sess.Name,
		Players: sess.Game.PlayerCount(),
	}})
}

func (c *Client) handleJoin(ctx context.Context, env InEnvelope) {
	var msg JoinMsg
	if len(env.D) > 0 {
		var err error
		if msg, err = DecodePayload[JoinMsg](c.codec, env); err != nil {
			return
		}
	}

	req := JoinRequest{
		Name:   truncateRunes(msg.Name, maxNameLen),
		Avatar: truncateRunes(msg.Avatar, maxAvatarLen),
	}
	if !c.identity.Guest() {
		req.Account = c.identity.Username
		req.Name = c.identity.Username
		if c.identity.Avatar != "" {
			req.Avatar = c.identity.Avatar
		}
	}

	sess := c.hub.sessions.Resolve(msg.SessionID)
	if sess == nil {
		c.sendError(ErrSessionNotFound.Error())
		return
	}

	// Rejoining moves the connection, it never holds two players
	c.leaveSession(ctx)
	if req.Account != "" {
		c.hub.sessions.EvictAccount(ctx, req.Account, sess.ID)
	}

	player, err := sess.Game.Join(ctx, c, req)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.hub.sessions.MarkActive(sess.ID)
	c.playerID = player.ID
	c.sessionID = sess.ID
}

func (c *Client) handleMove(env InEnvelope) {
	g := c.game()
	if g == nil {
		return
	}
	msg, err := DecodePayload[MoveMsg](c.codec, env)
	if err != nil || !finite(msg.X, msg.Y) {
		return
	}
	g.Move(c.playerID, msg.X, msg.Y)
}

func (c *Client) handleTag(ctx context.Context, env InEnvelope) {
	g := c.game()
	if g == nil {
		return
	}
	msg, err := DecodePayload[TagMsg](c.codec, env)
	if err != nil {
		return
	}
	// Rejections are not reported back to the tagger
	g.Tag(ctx, c.playerID, msg.ID)
}

func (c *Client) handleGetLeaderboard() {
	g := c.game()
	if g == nil || !g.SendLeaderboard(c.playerID) {
		c.sendError(ErrNotJoined.Error())
	}
}

func (c *Client) leaveSession(ctx context.Context) {
	if c.sessionID == "" {
		return
	}
	c.hub.sessions.RemovePlayer(ctx, c.sessionID, c.playerID)
	c.sessionID = ""
	c.playerID = ""
}

func (c *Client) handleProfile() {
	if c.hub.db == nil || c.identity.Guest() {
		c.sendError(ErrNotAuthenticated.Error())
		return
	}
	username := c.identity.Username
	stats, err := c.hub.db.GetStats(username)
	if err != nil {
		c.sendError("profile unavailable")
		return
	}
	if stats == nil {
		stats = &StatsRow{Username: username}
	}
	achievements, err := c.hub.db.GetAchievements(username)
	if err != nil {
		c.sendError("profile unavailable")
		return
	}
	c.Send(Envelope{T: MsgProfileData, Data: ProfileDataMsg{
		Username:     username,
		TotalTags:    stats.TotalTags,
		TotalTimeIt:  stats.TotalTimeIt,
		LongestHold:  stats.LongestHold,
		Achievements: achievements,
	}})
}
