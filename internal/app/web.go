// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gesture_computer/internal/config"
	"github.com/relabs-tech/gesture_computer/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is a client request on /ws.
type WSMessage struct {
	Action string `json:"action"` // align
	Device string `json:"device,omitempty"`
}

// WSResponse is sent to /ws clients.
type WSResponse struct {
	Type    string          `json:"type"` // frame, ack, error
	Frame   *pipeline.Frame `json:"frame,omitempty"`
	Message string          `json:"message,omitempty"`
}

// frameHub keeps the latest frame per device and fans frames out to
// WebSocket subscribers.
type frameHub struct {
	mu     sync.RWMutex
	latest map[string]pipeline.Frame
	subs   map[chan pipeline.Frame]struct{}
}

func newFrameHub() *frameHub {
	return &frameHub{
		latest: make(map[string]pipeline.Frame),
		subs:   make(map[chan pipeline.Frame]struct{}),
	}
}

// update stores f and forwards it to subscribers. Slow subscribers miss
// frames instead of blocking the MQTT callback.
func (h *frameHub) update(f pipeline.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[f.Device] = f
	for ch := range h.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

func (h *frameHub) subscribe() chan pipeline.Frame {
	ch := make(chan pipeline.Frame, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *frameHub) unsubscribe(ch chan pipeline.Frame) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *frameHub) snapshot() []pipeline.Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]pipeline.Frame, 0, len(h.latest))
	for _, f := range h.latest {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

func (h *frameHub) get(device string) (pipeline.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.latest[device]
	return f, ok
}

// webServer serves the feature API. align publishes an alignment request.
type webServer struct {
	hub   *frameHub
	align func(device string) error
}

func (s *webServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/features", s.handleFeatures)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// handleFeatures returns the latest frame of ?device=, or of every device.
func (s *webServer) handleFeatures(w http.ResponseWriter, r *http.Request) {
	var body any
	if device := r.URL.Query().Get("device"); device != "" {
		f, ok := s.hub.get(device)
		if !ok {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		body = f
	} else {
		frames := s.hub.snapshot()
		if len(frames) == 0 {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		body = frames
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// handleWS streams frames and accepts align requests.
func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	frames := s.hub.subscribe()
	defer s.hub.unsubscribe(frames)

	// gorilla connections allow one concurrent writer
	var writeMu sync.Mutex
	send := func(resp WSResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(resp)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readActions(conn, send)
	}()

	for {
		select {
		case <-done:
			return
		case f := <-frames:
			if err := send(WSResponse{Type: "frame", Frame: &f}); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

// jsonReader is the read side of a websocket connection.
type jsonReader interface {
	ReadJSON(v any) error
}

// readActions answers client requests until the connection fails.
func (s *webServer) readActions(conn jsonReader, send func(WSResponse) error) {
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("web: websocket read error: %v", err)
			}
			return
		}

		if err := send(s.handleAction(msg)); err != nil {
			log.Printf("web: websocket write error: %v", err)
			return
		}
	}
}

func (s *webServer) handleAction(msg WSMessage) WSResponse {
	switch msg.Action {
	case "align":
		if msg.Device == "" {
			return WSResponse{Type: "error", Message: "align: device required"}
		}
		if err := s.align(msg.Device); err != nil {
			return WSResponse{Type: "error", Message: fmt.Sprintf("align %s: %v", msg.Device, err)}
		}
		log.Printf("web: alignment requested for %s", msg.Device)
		return WSResponse{Type: "ack", Message: "align " + msg.Device}
	default:
		return WSResponse{Type: "error", Message: fmt.Sprintf("unknown action %q", msg.Action)}
	}
}

// RunWeb subscribes to feature frames and serves them over HTTP and
// WebSocket.
func RunWeb() error {
	cfg := config.Get()

	client, err := connectMQTT("web", cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	hub := newFrameHub()
	if err := subscribe(client, "web", cfg.TopicFeatures+"/+", func(_ mqtt.Client, msg mqtt.Message) {
		var f pipeline.Frame
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("web: frame unmarshal error: %v", err)
			return
		}
		hub.update(f)
	}); err != nil {
		return err
	}

	srv := &webServer{
		hub: hub,
		align: func(device string) error {
			token := client.Publish(deviceTopic(cfg.TopicAlign, device), 0, false, []byte("{}"))
			token.Wait()
			return token.Error()
		},
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, srv.routes())
}
