package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/ludo/games/ludo"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func testConfig() *Config {
	return &Config{
		buffPhrase: ludo.DefaultBuffPhrase,
		port:       8080,
	}
}

func alwaysRoll(v int) ludo.Dice {
	return ludo.DiceFunc(func(*ludo.Player) int { return v })
}

// newTestHub returns a hub with a host and a spectator attached directly,
// without websockets or the run loop.
func newTestHub(dice ludo.Dice) (*Hub, *Client, *Client) {
	h := newHub("TESTGAME", ludo.NewSession(dice, ludo.WithBuffPhrase(ludo.DefaultBuffPhrase)))

	host := &Client{send: make(chan any, 64), playerID: "host"}
	watcher := &Client{send: make(chan any, 64), playerID: "watcher"}
	h.clients[host] = true
	h.clients[watcher] = true
	h.hostPlayerID = host.playerID

	return h, host, watcher
}

func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

// types flattens messages to their type, with events as "event:<kind>".
func types(msgs []any) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		switch m := msg.(type) {
		case SimpleMessage:
			out = append(out, m.Type)
		case SessionInfoMessage:
			out = append(out, m.Type)
		case EventMessage:
			out = append(out, m.Type+":"+string(m.Kind))
		case GameStateMessage:
			out = append(out, m.Type)
		default:
			out = append(out, "unknown")
		}
	}
	return out
}

func lastState(t *testing.T, msgs []any) GameStateMessage {
	t.Helper()

	for i := len(msgs) - 1; i >= 0; i-- {
		if s, ok := msgs[i].(GameStateMessage); ok {
			return s
		}
	}
	t.Fatalf("no game_state in %v", types(msgs))
	return GameStateMessage{}
}

func start(h *Hub, c *Client, names map[string]string) {
	h.handleStart(testConfig(), startRequest{client: c, msg: ClientMessage{Type: "start", Names: names}})
}

func act(cfg *Config, h *Hub, c *Client, typ string, token ...int) {
	msg := ClientMessage{Type: typ}
	if len(token) > 0 {
		msg.Token = &token[0]
	}
	h.handleAction(cfg, actionRequest{client: c, msg: msg})
}

func TestHandleStartBroadcasts(t *testing.T) {
	h, host, watcher := newTestHub(alwaysRoll(3))

	start(h, host, map[string]string{"blue": "Bo", "red": "Ann", "purple": "Zed", "green": "  "})

	for _, c := range []*Client{host, watcher} {
		msgs := drain(c)
		want := []string{"event:game_started", "game_state"}
		if got := types(msgs); !reflect.DeepEqual(got, want) {
			t.Fatalf("%s got %v, want %v", c.playerID, got, want)
		}

		state := lastState(t, msgs)
		if !state.Started || state.Current != "red" || state.Phase != ludo.PhaseAwaitingRoll {
			t.Fatalf("state = started %v current %q phase %s", state.Started, state.Current, state.Phase)
		}
		if len(state.Players) != 2 || state.Players[0].Color != ludo.Red || state.Players[1].Color != ludo.Blue {
			t.Fatalf("players = %+v, want red then blue", state.Players)
		}
		if len(state.Players[0].Tokens) != ludo.TokensPerPlayer {
			t.Fatalf("tokens = %d, want %d", len(state.Players[0].Tokens), ludo.TokensPerPlayer)
		}
	}
}

func TestHandleStartWithoutPlayers(t *testing.T) {
	h, host, watcher := newTestHub(alwaysRoll(3))

	start(h, host, map[string]string{"red": "", "green": "   "})

	msgs := drain(host)
	if got := types(msgs); !reflect.DeepEqual(got, []string{"invalid_start"}) {
		t.Fatalf("host got %v, want [invalid_start]", got)
	}
	if m := msgs[0].(SimpleMessage); m.Message != "Enter at least 1 player." {
		t.Fatalf("message = %q", m.Message)
	}
	if got := drain(watcher); len(got) != 0 {
		t.Fatalf("watcher got %v, want nothing", types(got))
	}
	if h.session.Active() {
		t.Fatalf("session started without players")
	}
}

func TestSpectatorIsRefused(t *testing.T) {
	h, host, watcher := newTestHub(alwaysRoll(6))

	start(h, watcher, map[string]string{"red": "Ann"})
	if got := types(drain(watcher)); !reflect.DeepEqual(got, []string{"not_host"}) {
		t.Fatalf("watcher got %v, want [not_host]", got)
	}
	if h.session.Active() {
		t.Fatalf("spectator started the game")
	}

	start(h, host, map[string]string{"red": "Ann"})
	drain(host)
	drain(watcher)

	act(testConfig(), h, watcher, "roll")
	if got := types(drain(watcher)); !reflect.DeepEqual(got, []string{"not_host"}) {
		t.Fatalf("watcher got %v, want [not_host]", got)
	}
	if got := drain(host); len(got) != 0 {
		t.Fatalf("host got %v after spectator roll", types(got))
	}
	if phase := h.session.CurrentState().Phase; phase != ludo.PhaseAwaitingRoll {
		t.Fatalf("phase = %s, want awaiting_roll", phase)
	}
}

func TestRollThenMove(t *testing.T) {
	h, host, watcher := newTestHub(alwaysRoll(6))
	cfg := testConfig()

	start(h, host, map[string]string{"green": "Gil"})
	drain(host)
	drain(watcher)

	act(cfg, h, host, "roll")
	msgs := drain(watcher)
	if got := types(msgs); !reflect.DeepEqual(got, []string{"event:dice_rolled", "game_state"}) {
		t.Fatalf("roll broadcast = %v", got)
	}
	state := lastState(t, msgs)
	if state.Phase != ludo.PhaseAwaitingMove || state.LastRoll != 6 {
		t.Fatalf("phase %s roll %d, want awaiting_move 6", state.Phase, state.LastRoll)
	}
	if !reflect.DeepEqual(state.Movable, []int{0, 1, 2, 3}) {
		t.Fatalf("movable = %v", state.Movable)
	}
	drain(host)

	act(cfg, h, host, "move", 2)
	msgs = drain(watcher)
	want := []string{"event:token_moved", "event:extra_turn", "game_state"}
	if got := types(msgs); !reflect.DeepEqual(got, want) {
		t.Fatalf("move broadcast = %v, want %v", got, want)
	}

	tok := lastState(t, msgs).Players[0].Tokens[2]
	if tok.State != ludo.OnTrack || tok.Progress != 0 || tok.Cell == nil || *tok.Cell != ludo.Green.Entry() {
		t.Fatalf("token = %+v, want on track at cell %d", tok, ludo.Green.Entry())
	}
}

func TestAutoMoveFlag(t *testing.T) {
	h, host, watcher := newTestHub(alwaysRoll(6))
	cfg := testConfig()
	cfg.autoMove = true

	start(h, host, map[string]string{"red": "Ann"})
	drain(host)
	drain(watcher)

	act(cfg, h, host, "roll")
	want := []string{"event:dice_rolled", "event:token_moved", "event:extra_turn", "game_state"}
	if got := types(drain(watcher)); !reflect.DeepEqual(got, want) {
		t.Fatalf("broadcast = %v, want %v", got, want)
	}
	if phase := h.session.CurrentState().Phase; phase != ludo.PhaseAwaitingRoll {
		t.Fatalf("phase = %s, want awaiting_roll", phase)
	}
}

func TestRejectionsGoToRequester(t *testing.T) {
	h, host, watcher := newTestHub(alwaysRoll(6))
	cfg := testConfig()

	act(cfg, h, host, "roll")
	if got := types(drain(host)); !reflect.DeepEqual(got, []string{"invalid_state"}) {
		t.Fatalf("roll before start = %v, want [invalid_state]", got)
	}

	start(h, host, map[string]string{"red": "Ann"})
	act(cfg, h, host, "roll")
	drain(host)
	drain(watcher)

	act(cfg, h, host, "roll")
	if got := types(drain(host)); !reflect.DeepEqual(got, []string{"invalid_state"}) {
		t.Fatalf("second roll = %v, want [invalid_state]", got)
	}

	act(cfg, h, host, "move")
	if got := types(drain(host)); !reflect.DeepEqual(got, []string{"illegal_move"}) {
		t.Fatalf("move without token = %v, want [illegal_move]", got)
	}

	act(cfg, h, host, "move", 9)
	if got := types(drain(host)); !reflect.DeepEqual(got, []string{"illegal_move"}) {
		t.Fatalf("move token 9 = %v, want [illegal_move]", got)
	}

	if got := drain(watcher); len(got) != 0 {
		t.Fatalf("watcher saw rejections: %v", types(got))
	}
	if phase := h.session.CurrentState().Phase; phase != ludo.PhaseAwaitingMove {
		t.Fatalf("phase = %s, want awaiting_move", phase)
	}
}

func TestGameStateHidesBuff(t *testing.T) {
	h, host, _ := newTestHub(alwaysRoll(2))

	start(h, host, map[string]string{"red": "Code Red", "green": "Gil"})

	h.mu.RLock()
	data, err := json.Marshal(h.gameStateLocked())
	h.mu.RUnlock()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if bytes.Contains(bytes.ToLower(data), []byte("buff")) {
		t.Fatalf("snapshot leaks buff flag: %s", data)
	}
	if !bytes.Contains(data, []byte(`"name":"Code Red"`)) {
		t.Fatalf("snapshot missing player name: %s", data)
	}
}

func TestGameStateLogTail(t *testing.T) {
	h, host, _ := newTestHub(alwaysRoll(1))
	cfg := testConfig()

	start(h, host, map[string]string{"red": "Ann", "green": "Gil"})
	for i := 0; i < 40; i++ {
		act(cfg, h, host, "roll")
	}

	h.mu.RLock()
	state := h.gameStateLocked()
	h.mu.RUnlock()

	if len(state.Log) != logTail {
		t.Fatalf("log lines = %d, want %d", len(state.Log), logTail)
	}
	full := h.session.Log()
	if state.Log[logTail-1] != full[len(full)-1] {
		t.Fatalf("log tail ends with %q, want %q", state.Log[logTail-1], full[len(full)-1])
	}
}

func TestScheduleHandoff(t *testing.T) {
	h := newHub("TESTGAME", ludo.NewSession(alwaysRoll(1)))
	watcher := &Client{send: make(chan any, 4), playerID: "watcher"}
	h.clients[watcher] = true
	h.hostPlayerID = "gone"

	h.scheduleHandoff(testConfig(), "gone", 0)

	if h.hostPlayerID != "watcher" {
		t.Fatalf("host = %q, want watcher", h.hostPlayerID)
	}
	msgs := drain(watcher)
	if len(msgs) != 1 {
		t.Fatalf("watcher got %v", types(msgs))
	}
	if info, ok := msgs[0].(SessionInfoMessage); !ok || !info.IsHost {
		t.Fatalf("watcher got %+v, want session_info with is_host", msgs[0])
	}
}

func TestScheduleHandoffHostReturned(t *testing.T) {
	h := newHub("TESTGAME", ludo.NewSession(alwaysRoll(1)))
	host := &Client{send: make(chan any, 4), playerID: "host"}
	watcher := &Client{send: make(chan any, 4), playerID: "watcher"}
	h.clients[host] = true
	h.clients[watcher] = true
	h.hostPlayerID = "host"

	h.scheduleHandoff(testConfig(), "host", 0)

	if h.hostPlayerID != "host" {
		t.Fatalf("host = %q, want host kept", h.hostPlayerID)
	}
	if got := drain(watcher); len(got) != 0 {
		t.Fatalf("watcher got %v", types(got))
	}
}

func TestSendDropsSlowClient(t *testing.T) {
	h := newHub("TESTGAME", ludo.NewSession(alwaysRoll(1)))
	slow := &Client{send: make(chan any, 1), playerID: "slow"}
	h.clients[slow] = true

	h.sendLocked(slow, SimpleMessage{Type: "one"})
	h.sendLocked(slow, SimpleMessage{Type: "two"})

	if h.clients[slow] {
		t.Fatalf("slow client still registered")
	}
	if got := types(drain(slow)); !reflect.DeepEqual(got, []string{"one"}) {
		t.Fatalf("slow client got %v, want [one]", got)
	}
}

func newTestRouter(cfg *Config) (*httprouter.Router, *GameManager) {
	return newRouter(cfg, make(chan error, 8))
}

func TestReapStopsHub(t *testing.T) {
	gm := newGameManager(0)

	hub := newHub("IDLEGAME", ludo.NewSession(alwaysRoll(1)))
	hub.lastActive = time.Now().Add(-time.Hour)
	client := &Client{send: make(chan any, 4), playerID: "p1"}
	hub.clients[client] = true
	gm.hubs[hub.id] = hub

	fresh := newHub("LIVEGAME", ludo.NewSession(alwaysRoll(1)))
	gm.hubs[fresh.id] = fresh

	exited := make(chan struct{})
	go func() {
		hub.run(testConfig())
		close(exited)
	}()

	if n := gm.reap(time.Now().Add(-time.Minute)); n != 1 {
		t.Fatalf("reap() = %d, want 1", n)
	}
	if n := gm.count(); n != 1 {
		t.Fatalf("count() = %d, want 1", n)
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after the hub was reaped")
	}

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatalf("reaped client received a message")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("reaped client's send channel was not closed")
	}

	// A second close must not panic.
	hub.closeAll()
}

func TestRegisterAfterCloseIsRefused(t *testing.T) {
	hub := newHub("ENDED001", ludo.NewSession(alwaysRoll(1)))
	hub.closeAll()

	exited := make(chan struct{})
	go func() {
		hub.run(testConfig())
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatalf("run kept going on a closed hub")
	}

	client := &Client{send: make(chan any, 1), playerID: "late"}
	select {
	case hub.register <- client:
		t.Fatalf("closed hub accepted a client")
	case <-hub.done:
	}
}

func TestReapClosesConnections(t *testing.T) {
	mux, gm := newTestRouter(testConfig())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ludo/REAPME01/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readMessage(t, conn)
	readMessage(t, conn)

	if n := gm.reap(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("reap() = %d, want 1", n)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection still open after reap")
	} else if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		t.Fatalf("connection not closed after reap: %v", err)
	}
}

func TestHealthCheckCountsGames(t *testing.T) {
	mux, gm := newTestRouter(testConfig())
	gm.getHub(testConfig(), "GAME0001")
	gm.getHub(testConfig(), "GAME0002")
	defer gm.shutdown()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got, want := rec.Body.String(), "Ok\ngames: 2\n"; got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}
}

func TestRedirectNewGame(t *testing.T) {
	mux, _ := newTestRouter(testConfig())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ludo", nil))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTemporaryRedirect)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/ludo/") || len(strings.TrimPrefix(loc, "/ludo/")) != 8 {
		t.Fatalf("location = %q, want /ludo/<8 chars>", loc)
	}
}

func TestIndexHandlerSetsCookie(t *testing.T) {
	mux, _ := newTestRouter(testConfig())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ludo/ABCDEFGH", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}

	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == playerCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no %s cookie set", playerCookieName)
	}
}

func TestQRHandler(t *testing.T) {
	mux, _ := newTestRouter(testConfig())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ludo/ABCDEFGH/qr", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q, want image/png", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("body is not a png")
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocketGame(t *testing.T) {
	mux, _ := newTestRouter(testConfig())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ludo/WSGAME01/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	info := readMessage(t, conn)
	if info["type"] != "session_info" || info["is_host"] != true || info["game_id"] != "WSGAME01" {
		t.Fatalf("first message = %v, want host session_info", info)
	}
	if state := readMessage(t, conn); state["type"] != "game_state" || state["started"] != false {
		t.Fatalf("second message = %v, want idle game_state", state)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "start", Names: map[string]string{"yellow": "Yas"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := readMessage(t, conn)
	if ev["type"] != "event" || ev["kind"] != string(ludo.EventGameStarted) {
		t.Fatalf("got %v, want game_started event", ev)
	}
	state := readMessage(t, conn)
	if state["type"] != "game_state" || state["current"] != "yellow" || state["phase"] != "awaiting_roll" {
		t.Fatalf("got %v, want yellow to roll", state)
	}
}
