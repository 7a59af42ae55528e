// Ludo
//
// A hot-seat race game for up to four colors. One browser drives the game;
// anyone else with the link watches it live.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - First connection to a game becomes the host, who enters names, rolls and moves
// - Later connections spectate; commands from them are refused
// - A disconnected host is replaced by a spectator after --host-timeout
// - Players identified by cookie (playerID)
// - Engine events are broadcast as they happen, followed by a full state snapshot
// - Rejections are sent only to the offending client
// - Optional --auto-move resolves every roll with the automatic token choice
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current game, backed by go-qrcode

package main

import (
	"crypto/rand"
	"errors"
	mrand "math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/ludo/games/ludo"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// logTail is how many log lines a game_state snapshot carries.
const logTail = 50

// Messages coming from clients
type ClientMessage struct {
	Type  string            `json:"type"`            // "start", "roll", "move", "auto"
	Names map[string]string `json:"names,omitempty"` // start: color -> name
	Token *int              `json:"token,omitempty"` // move
}

// SimpleMessage is for notifications to a single client ("not_host", "illegal_move", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SessionInfoMessage is sent on connect, and again whenever the host changes,
// so the client knows whether to show the controls.
type SessionInfoMessage struct {
	Type   string `json:"type"` // "session_info"
	GameID string `json:"game_id"`
	IsHost bool   `json:"is_host"`
}

// EventMessage relays one engine event.
type EventMessage struct {
	Type string `json:"type"` // "event"
	ludo.Event
}

// TokenView is one token as the client renders it. Cell is the absolute
// track cell and is omitted unless the token is on the track.
type TokenView struct {
	State    ludo.State `json:"state"`
	Progress int        `json:"progress"`
	Cell     *int       `json:"cell,omitempty"`
}

type PlayerView struct {
	Color    ludo.Color  `json:"color"`
	Name     string      `json:"name"`
	Tokens   []TokenView `json:"tokens"`
	Finished int         `json:"finished"`
}

// GameStateMessage is a full snapshot, broadcast after every change.
type GameStateMessage struct {
	Type      string       `json:"type"` // "game_state"
	Started   bool         `json:"started"`
	Phase     ludo.Phase   `json:"phase"`
	Current   string       `json:"current,omitempty"` // color to act
	Winner    string       `json:"winner,omitempty"`  // color that won
	LastRoll  int          `json:"last_roll,omitempty"`
	Movable   []int        `json:"movable,omitempty"`
	Players   []PlayerView `json:"players"`
	SafeCells []int        `json:"safe_cells"`
	Log       []string     `json:"log"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type startRequest struct {
	client *Client
	msg    ClientMessage
}

type actionRequest struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	clients map[*Client]bool
	session *ludo.Session

	register chan *Client
	unreg    chan *Client
	starts   chan startRequest
	actions  chan actionRequest

	mu sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
	closed    bool

	createdAt    time.Time
	lastActive   time.Time
	hostPlayerID string // cookie/playerID of the client driving the game
}

func newHub(gameID string, session *ludo.Session) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		session:    session,
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		starts:     make(chan startRequest),
		actions:    make(chan actionRequest),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

// newSession builds the engine for a new hub from the configured dice.
func newSession(cfg *Config) *ludo.Session {
	var rng *mrand.Rand
	if cfg.diceSeed != 0 {
		rng = mrand.New(mrand.NewSource(cfg.diceSeed))
	}

	return ludo.NewSession(ludo.NewRandomDice(rng), ludo.WithBuffPhrase(cfg.buffPhrase))
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.closed {
				close(c.send)
				h.mu.Unlock()
				continue
			}
			h.lastActive = time.Now()

			// First connection becomes host
			if h.hostPlayerID == "" {
				h.hostPlayerID = c.playerID
				logf(cfg, "GAMES: Host joined %s", h.id)
			}

			h.clients[c] = true

			h.sendLocked(c, SessionInfoMessage{
				Type:   "session_info",
				GameID: h.id,
				IsHost: c.playerID == h.hostPlayerID,
			})
			h.sendLocked(c, h.gameStateLocked())

			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			isHost := c.playerID != "" && c.playerID == h.hostPlayerID
			h.mu.Unlock()

			if isHost {
				go h.scheduleHandoff(cfg, c.playerID, cfg.hostTimeout)
			}

		case sr := <-h.starts:
			h.handleStart(cfg, sr)

		case ar := <-h.actions:
			h.handleAction(cfg, ar)
		}
	}
}

// sendLocked queues msg for c, dropping the client if its buffer is full.
// Assumes h.mu is held.
func (h *Hub) sendLocked(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

func (h *Hub) broadcastEventsLocked(evs []ludo.Event) {
	for _, ev := range evs {
		h.broadcastLocked(EventMessage{Type: "event", Event: ev})
	}
}

// gameStateLocked snapshots the session. It never exposes the dice buff.
func (h *Hub) gameStateLocked() GameStateMessage {
	turn := h.session.CurrentState()

	msg := GameStateMessage{
		Type:      "game_state",
		Started:   h.session.Active(),
		Phase:     turn.Phase,
		LastRoll:  h.session.LastRoll(),
		Movable:   turn.Movable,
		SafeCells: ludo.SafeCells(),
	}

	switch turn.Phase {
	case ludo.PhaseAwaitingRoll, ludo.PhaseAwaitingMove:
		msg.Current = turn.Color.String()
	case ludo.PhaseGameOver:
		msg.Winner = turn.Color.String()
	}

	players := h.session.Players()
	msg.Players = make([]PlayerView, 0, len(players))
	for _, p := range players {
		view := PlayerView{
			Color:    p.Color,
			Name:     p.Name,
			Tokens:   make([]TokenView, 0, len(p.Tokens)),
			Finished: p.FinishedCount(),
		}
		for _, t := range p.Tokens {
			tv := TokenView{State: t.State, Progress: t.Progress}
			if cell, ok := t.Cell(p.Color); ok {
				tv.Cell = &cell
			}
			view.Tokens = append(view.Tokens, tv)
		}
		msg.Players = append(msg.Players, view)
	}

	lines := h.session.Log()
	if len(lines) > logTail {
		lines = lines[len(lines)-logTail:]
	}
	msg.Log = lines

	return msg
}

// scheduleHandoff waits for d, and if the host has not reconnected, passes
// the host role to a connected spectator, or clears it so the next
// connection takes it.
func (h *Hub) scheduleHandoff(cfg *Config, playerID string, d time.Duration) {
	time.Sleep(d)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.hostPlayerID != playerID {
		return
	}

	for client := range h.clients {
		if client.playerID == playerID {
			return
		}
	}

	h.hostPlayerID = ""
	for client := range h.clients {
		if client.playerID == "" {
			continue
		}
		h.hostPlayerID = client.playerID
		break
	}

	if h.hostPlayerID == "" {
		return
	}

	h.lastActive = time.Now()
	logf(cfg, "GAMES: Host of %s handed off", h.id)

	for client := range h.clients {
		if client.playerID == h.hostPlayerID {
			h.sendLocked(client, SessionInfoMessage{
				Type:   "session_info",
				GameID: h.id,
				IsHost: true,
			})
		}
	}
}

// isHostLocked tells c off if it is not the host.
func (h *Hub) isHostLocked(c *Client) bool {
	if c.playerID != "" && c.playerID == h.hostPlayerID {
		return true
	}

	h.sendLocked(c, SimpleMessage{
		Type:    "not_host",
		Message: "Only the host can play; you are watching this game.",
	})
	return false
}

// rejectLocked reports an engine rejection to the offending client only.
func (h *Hub) rejectLocked(c *Client, err error) {
	kind := "illegal_move"
	switch {
	case errors.Is(err, ludo.ErrNoPlayers):
		kind = "invalid_start"
	case errors.Is(err, ludo.ErrInvalidState):
		kind = "invalid_state"
	}

	h.sendLocked(c, SimpleMessage{
		Type:    kind,
		Message: err.Error(),
	})
}

// handleStart processes "start" messages.
func (h *Hub) handleStart(cfg *Config, sr startRequest) {
	c := sr.client

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if !h.isHostLocked(c) {
		return
	}

	names := make(map[ludo.Color]string, len(sr.msg.Names))
	for key, name := range sr.msg.Names {
		color, err := ludo.ParseColor(key)
		if err != nil {
			continue
		}
		names[color] = name
	}

	evs, err := h.session.Start(names)
	if err != nil {
		if errors.Is(err, ludo.ErrNoPlayers) && len(evs) > 0 {
			h.sendLocked(c, SimpleMessage{
				Type:    string(evs[0].Kind),
				Message: evs[0].Message,
			})
			return
		}
		h.rejectLocked(c, err)
		return
	}

	logf(cfg, "GAMES: Started %s with %d players", h.id, len(h.session.Players()))

	h.broadcastEventsLocked(evs)
	h.broadcastLocked(h.gameStateLocked())
}

// handleAction processes "roll", "move" and "auto" messages.
func (h *Hub) handleAction(cfg *Config, ar actionRequest) {
	c := ar.client
	msg := ar.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if !h.isHostLocked(c) {
		return
	}

	var (
		evs []ludo.Event
		err error
	)

	switch msg.Type {
	case "roll":
		_, evs, err = h.session.Roll()
		if err == nil && cfg.autoMove && h.session.CurrentState().Phase == ludo.PhaseAwaitingMove {
			var more []ludo.Event
			_, more, err = h.session.AutoMove()
			evs = append(evs, more...)
		}

	case "move":
		if msg.Token == nil {
			h.sendLocked(c, SimpleMessage{
				Type:    "illegal_move",
				Message: "No token selected.",
			})
			return
		}
		_, evs, err = h.session.ChooseMove(*msg.Token)

	case "auto":
		_, evs, err = h.session.AutoMove()

	default:
		return
	}

	// Events that happened before a failure still describe real changes.
	if len(evs) > 0 {
		h.broadcastEventsLocked(evs)
		h.broadcastLocked(h.gameStateLocked())
	}

	if err != nil {
		h.rejectLocked(c, err)
		return
	}

	if w, ok := h.session.Winner(); ok {
		logf(cfg, "GAMES: %s (%q) won %s", w.Color, w.Name, h.id)
	}
}

// closeAll disconnects all clients of this hub and stops its run loop.
// Safe to call more than once.
func (h *Hub) closeAll() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "ludo_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated game.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newGameManager(idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, newSession(cfg))
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for range ticker.C {
		gm.reap(time.Now().Add(-gm.idleTimeout))
	}
}

// reap ends every hub last active before cutoff and returns how many it ended.
func (gm *GameManager) reap(cutoff time.Time) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	reaped := 0
	for id, hub := range gm.hubs {
		hub.mu.RLock()
		last := hub.lastActive
		hub.mu.RUnlock()

		if last.Before(cutoff) {
			delete(gm.hubs, id)
			go hub.closeAll()
			reaped++
		}
	}

	return reaped
}

// count reports the number of live games.
func (gm *GameManager) count() int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	return len(gm.hubs)
}

// shutdown ends every game, for use when the server stops.
func (gm *GameManager) shutdown() {
	gm.mu.Lock()
	hubs := gm.hubs
	gm.hubs = make(map[string]*Hub)
	gm.mu.Unlock()

	for _, hub := range hubs {
		hub.closeAll()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Upgrade failed for %s: %v", realIP(r), err)
			return
		}

		logf(cfg, "GAMES: %s connected to %s", realIP(r), gameID)

		client := &Client{
			conn:     conn,
			send:     make(chan any, 32),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start":
			select {
			case h.starts <- startRequest{client: c, msg: msg}:
			case <-h.done:
				return
			}
		case "roll", "move", "auto":
			select {
			case h.actions <- actionRequest{client: c, msg: msg}:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func getIndexHandler(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/ludo/index.html")
		if err != nil {
			errs <- err
			http.Error(w, "missing client", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, err = w.Write(data)
		if err != nil {
			errs <- err
		}
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerLudoGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerLudoGame(cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *GameManager {
	gm := newGameManager(cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg, errs))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	return gm
}
