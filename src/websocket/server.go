package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"latencyd/src/api"
	"latencyd/src/concurrency"
	"latencyd/src/latency"
	"latencyd/src/logging"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	opEvent      = 0
	opHello      = 1
	opInitialize = 2
	opHeartbeat  = 3

	heartbeatJitter    = time.Second // tolerance window
	maxHeartbeatMisses = 3           // after 3 missed beats, drop

	defaultHeartbeatInterval = 30 * time.Second

	eventInitState     = "INIT_STATE"
	eventMetricsUpdate = "METRICS_UPDATE"
)

type wsMessage struct {
	Op  int    `json:"op"`
	Seq int64  `json:"seq,omitempty"`
	T   string `json:"t,omitempty"`
	D   any    `json:"d,omitempty"`
}

type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
	PushInterval      int64 `json:"push_interval"`
}

type initPayload struct {
	Subscribe *bool `json:"subscribe"`
}

type connState struct {
	subscribed    bool
	lastHeartbeat time.Time
	misses        int
	mu            sync.Mutex // protects lastHeartbeat and misses
	writeMu       sync.Mutex // serializes writes to the websocket.Conn
}

// Server streams latency summaries to subscribed websocket clients. A client
// receives a hello, subscribes with op 2 {"subscribe": true} and from then on
// gets a METRICS_UPDATE every push interval.
type Server struct {
	tracker           *latency.Tracker
	upgrader          websocket.Upgrader
	pushInterval      time.Duration
	heartbeatInterval time.Duration
	stateMu           sync.Mutex
	state             map[*websocket.Conn]*connState
	seq               int64
	stop              chan struct{}
	stopOnce          sync.Once
}

// NewServer starts the broadcast loop pushing tracker summaries every pushInterval.
func NewServer(tracker *latency.Tracker, pushInterval time.Duration) *Server {
	if pushInterval <= 0 {
		pushInterval = time.Second
	}
	ws := &Server{
		tracker: tracker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pushInterval:      pushInterval,
		heartbeatInterval: defaultHeartbeatInterval,
		state:             make(map[*websocket.Conn]*connState),
		stop:              make(chan struct{}),
	}
	concurrency.GoSafe(ws.pushLoop)
	return ws
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("ws upgrade failed")
		return
	}
	// Cap inbound frame size; clients only ever send small control payloads.
	conn.SetReadLimit(64 << 10)
	s.registerConn(conn)
	s.sendHello(conn)
	concurrency.GoSafe(func() { s.watchHeartbeats(conn) })
	s.handleConn(conn)
}

func (s *Server) registerConn(conn *websocket.Conn) {
	s.stateMu.Lock()
	s.state[conn] = &connState{lastHeartbeat: time.Now()}
	s.stateMu.Unlock()
}

func (s *Server) sendHello(conn *websocket.Conn) {
	hello := wsMessage{Op: opHello, D: helloPayload{
		HeartbeatInterval: s.heartbeatInterval.Milliseconds(),
		PushInterval:      s.pushInterval.Milliseconds(),
	}}
	_ = s.writeJSON(conn, hello)
}

func (s *Server) handleConn(conn *websocket.Conn) {
	defer s.cleanupConn(conn)
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Op {
		case opInitialize:
			s.handleInit(conn, msg.D)
		case opHeartbeat:
			s.touchHeartbeat(conn)
			_ = s.writeJSON(conn, wsMessage{Op: opHeartbeat})
		default:
			s.closeWithCode(conn, 4004, "unknown_opcode")
			return
		}
	}
}

func (s *Server) handleInit(conn *websocket.Conn, raw any) {
	if _, ok := raw.(map[string]any); !ok {
		s.closeWithCode(conn, 4005, "requires_data_object")
		return
	}
	payload, ok := decodeInitPayload(raw)
	if !ok || payload.Subscribe == nil {
		s.closeWithCode(conn, 4006, "invalid_payload")
		return
	}

	// INIT_STATE goes out before the flag flips so it is always the first event.
	if *payload.Subscribe {
		s.sendEvent(conn, eventInitState, api.NewMetricsBody(s.tracker.Summary()))
	}
	s.stateMu.Lock()
	if state, ok := s.state[conn]; ok {
		state.subscribed = *payload.Subscribe
	}
	s.stateMu.Unlock()
}

func decodeInitPayload(raw any) (initPayload, bool) {
	var payload initPayload
	data, err := json.Marshal(raw)
	if err != nil {
		return payload, false
	}
	return payload, json.Unmarshal(data, &payload) == nil
}

func (s *Server) touchHeartbeat(conn *websocket.Conn) {
	s.stateMu.Lock()
	state, ok := s.state[conn]
	s.stateMu.Unlock()
	if !ok {
		return
	}
	state.mu.Lock()
	state.lastHeartbeat = time.Now()
	state.mu.Unlock()
}

func (s *Server) watchHeartbeats(conn *websocket.Conn) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.stateMu.Lock()
		state, ok := s.state[conn]
		s.stateMu.Unlock()
		if !ok {
			return
		}
		state.mu.Lock()
		timeSinceBeat := time.Since(state.lastHeartbeat)
		if timeSinceBeat > s.heartbeatInterval+heartbeatJitter {
			state.misses++
		} else {
			state.misses = 0
		}
		misses := state.misses
		state.mu.Unlock()

		if misses >= maxHeartbeatMisses || timeSinceBeat > 2*s.heartbeatInterval+heartbeatJitter {
			logging.Log.WithField("conn", conn.RemoteAddr().String()).Warn("ws heartbeat timeout")
			s.cleanupConn(conn)
			return
		}
	}
}

func (s *Server) pushLoop() {
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

// broadcast computes one summary and sends it to every subscriber.
func (s *Server) broadcast() {
	s.stateMu.Lock()
	targets := make([]*websocket.Conn, 0, len(s.state))
	for conn, state := range s.state {
		if state.subscribed {
			targets = append(targets, conn)
		}
	}
	s.stateMu.Unlock()

	if len(targets) == 0 {
		return
	}
	payload := api.NewMetricsBody(s.tracker.Summary())
	logging.Log.WithFields(logrus.Fields{
		"subs":         len(targets),
		"sample_count": payload.SampleCount,
	}).Debug("metrics broadcast")

	for _, conn := range targets {
		s.sendEvent(conn, eventMetricsUpdate, payload)
	}
}

func (s *Server) sendEvent(conn *websocket.Conn, event string, data any) {
	msg := wsMessage{Op: opEvent, Seq: s.nextSeq(), T: event, D: data}
	if err := s.writeJSON(conn, msg); err != nil {
		logging.Log.WithError(err).Warn("ws send failed")
		go s.cleanupConn(conn)
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	s.stateMu.Lock()
	state, ok := s.state[conn]
	s.stateMu.Unlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(v)
}

func (s *Server) writeControl(conn *websocket.Conn, messageType int, data []byte, deadline time.Time) error {
	s.stateMu.Lock()
	state, ok := s.state[conn]
	s.stateMu.Unlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	return conn.WriteControl(messageType, data, deadline)
}

func (s *Server) cleanupConn(conn *websocket.Conn) {
	s.stateMu.Lock()
	state, ok := s.state[conn]
	delete(s.state, conn)
	s.stateMu.Unlock()
	if ok {
		state.writeMu.Lock()
		_ = conn.Close()
		state.writeMu.Unlock()
	} else {
		_ = conn.Close()
	}
}

func (s *Server) closeWithCode(conn *websocket.Conn, code int, reason string) {
	_ = s.writeControl(conn, websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	s.cleanupConn(conn)
}

// Close stops the broadcast loop and closes active websocket connections.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.stateMu.Lock()
	for conn := range s.state {
		_ = conn.Close()
	}
	s.state = make(map[*websocket.Conn]*connState)
	s.stateMu.Unlock()
}

// Subscribers returns the number of connections receiving metric pushes.
func (s *Server) Subscribers() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	n := 0
	for _, state := range s.state {
		if state.subscribed {
			n++
		}
	}
	return n
}

func (s *Server) nextSeq() int64 {
	return atomic.AddInt64(&s.seq, 1)
}
