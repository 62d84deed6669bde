package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/prefs"
)

const (
	wsWriteTimeout = 2 * time.Second
	wsSendBuffer   = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the compass is served on the local network only
	},
}

// controller is the part of compass.Session the web UI can drive.
type controller interface {
	Retry()
	Preferences() prefs.Preferences
	ApplyPreferences(p prefs.Preferences)
}

// State is the JSON document served on /api/state and pushed over /ws.
type State struct {
	Heading     *HeadingMessage   `json:"heading,omitempty"`
	Alignment   *AlignmentMessage `json:"alignment,omitempty"`
	Status      StatusMessage     `json:"status"`
	Preferences prefs.Preferences `json:"preferences"`
	Calibrate   bool              `json:"calibration_hint"`
	Rate        bool              `json:"prompt_rating,omitempty"`
}

// WSMessage is a command sent by a browser.
type WSMessage struct {
	Action string          `json:"action"` // retry, preferences
	Prefs  json.RawMessage `json:"preferences,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps the latest compass state and streams it to websocket clients.
type Hub struct {
	ctrl      controller
	savePrefs func(prefs.Preferences) error

	mu      sync.RWMutex
	state   State
	clients map[*wsClient]struct{}
}

// NewHub creates a Hub. savePrefs may be nil; when set it persists
// preference changes made from the browser.
func NewHub(ctrl controller, savePrefs func(prefs.Preferences) error) *Hub {
	return &Hub{
		ctrl:      ctrl,
		savePrefs: savePrefs,
		state:     State{Preferences: ctrl.Preferences()},
		clients:   make(map[*wsClient]struct{}),
	}
}

// Attach subscribes the hub to s and returns the unsubscribe function.
func (h *Hub) Attach(s *compass.Session) func() {
	unsubUpdates := s.Subscribe(h.OnUpdate)
	unsubStatus := s.SubscribeStatus(h.OnStatus)
	return func() {
		unsubUpdates()
		unsubStatus()
	}
}

// OnUpdate records u and pushes the new state.
func (h *Hub) OnUpdate(u compass.Update) {
	hm := newHeadingMessage(u)

	h.mu.Lock()
	h.state.Heading = &hm
	if am, ok := newAlignmentMessage(u); ok {
		h.state.Alignment = &am
	} else {
		h.state.Alignment = nil
	}
	h.state.Calibrate = u.CalibrationHint
	h.state.Rate = u.PromptRating
	h.state.Preferences = h.ctrl.Preferences()
	st := h.state
	h.mu.Unlock()

	h.broadcast(st)
}

// OnStatus records st and pushes the new state.
func (h *Hub) OnStatus(st compass.Status) {
	h.mu.Lock()
	h.state.Status = newStatusMessage(st)
	if st.LocationErr != nil {
		h.state.Alignment = nil
	}
	s := h.state
	h.mu.Unlock()

	h.broadcast(s)
}

// Snapshot returns the latest state.
func (h *Hub) Snapshot() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Hub) broadcast(st State) {
	payload, err := json.Marshal(st)
	if err != nil {
		log.Printf("web: state marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// slow client, it will catch up on the next update
		}
	}
}

// Handler returns the HTTP routes of the compass UI.
func (h *Hub) Handler(staticDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", h.handleState)
	mux.HandleFunc("/ws", h.handleWS)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

func (h *Hub) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	// first message is the current state
	if payload, err := json.Marshal(h.Snapshot()); err == nil {
		c.send <- payload
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go c.writeLoop(done)

	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	conn.Close()
}

func (c *wsClient) writeLoop(done chan struct{}) {
	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) readLoop(c *wsClient) {
	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket error: %v", err)
			}
			return
		}

		if err := h.handleAction(msg); err != nil {
			log.Printf("web: %v", err)
		}
	}
}

func (h *Hub) handleAction(msg WSMessage) error {
	switch msg.Action {
	case "retry":
		h.ctrl.Retry()
		return nil

	case "preferences":
		// merge on top of the current values so clients can send a subset
		p := h.ctrl.Preferences()
		if err := json.Unmarshal(msg.Prefs, &p); err != nil {
			return fmt.Errorf("invalid preferences: %w", err)
		}
		p = p.Normalize()
		h.ctrl.ApplyPreferences(p)

		h.mu.Lock()
		h.state.Preferences = p
		h.mu.Unlock()

		if h.savePrefs != nil {
			if err := h.savePrefs(p); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown websocket action %q", msg.Action)
	}
}
