package video

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// Message types of the GStreamer webrtcsink signalling protocol.
const (
	msgWelcome        = "welcome"
	msgList           = "list"
	msgStartSession   = "startSession"
	msgSessionStarted = "sessionStarted"
	msgPeer           = "peer"
	msgEndSession     = "endSession"
	msgError          = "error"
)

type producer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type message struct {
	Type      string      `json:"type"`
	PeerID    string      `json:"peerId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Producers []producer  `json:"producers,omitempty"`
	SDP       *sdpPayload `json:"sdp,omitempty"`
	ICE       *icePayload `json:"ice,omitempty"`
	Details   string      `json:"details,omitempty"`
}

// signalling is the websocket side of a session.
type signalling struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string
}

func dialSignalling(ctx context.Context, url string) (*signalling, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &signalling{ws: ws}, nil
}

func (s *signalling) write(m message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(m)
}

// read returns the next message, bounded by the deadline of ctx if it has one.
func (s *signalling) read(ctx context.Context) (message, error) {
	deadline, _ := ctx.Deadline()
	if err := s.ws.SetReadDeadline(deadline); err != nil {
		return message{}, err
	}
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return message{}, err
	}
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return message{}, fmt.Errorf("%w: %v", ErrUnexpectedMessage, err)
	}
	return m, nil
}

// expect reads until a message of type typ arrives. Error messages abort.
func (s *signalling) expect(ctx context.Context, typ string) (message, error) {
	for {
		m, err := s.read(ctx)
		if err != nil {
			return message{}, err
		}
		switch m.Type {
		case typ:
			return m, nil
		case msgError:
			return message{}, fmt.Errorf("%w: server error: %s", ErrUnexpectedMessage, m.Details)
		}
	}
}

// welcome waits for the greeting and returns our peer ID.
func (s *signalling) welcome(ctx context.Context) (string, error) {
	m, err := s.read(ctx)
	if err != nil {
		return "", err
	}
	if m.Type != msgWelcome {
		return "", fmt.Errorf("%w: expected welcome, got %q", ErrUnexpectedMessage, m.Type)
	}
	return m.PeerID, nil
}

// findProducer lists producers and returns the ID of the one named name.
func (s *signalling) findProducer(ctx context.Context, name string) (string, error) {
	if err := s.write(message{Type: msgList}); err != nil {
		return "", err
	}
	m, err := s.expect(ctx, msgList)
	if err != nil {
		return "", err
	}
	return pickProducer(m.Producers, name)
}

func pickProducer(producers []producer, name string) (string, error) {
	for _, p := range producers {
		if name == "" || p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	if name == "" {
		return "", fmt.Errorf("%w: none listed", ErrNoProducer)
	}
	return "", fmt.Errorf("%w: %q not among %d producers", ErrNoProducer, name, len(producers))
}

func (s *signalling) startSession(producerID string) error {
	return s.write(message{Type: msgStartSession, PeerID: producerID})
}

func (s *signalling) setSession(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *signalling) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *signalling) sendSDP(desc webrtc.SessionDescription) error {
	return s.write(message{
		Type:      msgPeer,
		SessionID: s.session(),
		SDP:       &sdpPayload{Type: desc.Type.String(), SDP: desc.SDP},
	})
}

// sendICE forwards a local candidate. Candidates gathered before the
// session starts are dropped.
func (s *signalling) sendICE(init webrtc.ICECandidateInit) error {
	id := s.session()
	if id == "" {
		return nil
	}
	return s.write(message{
		Type:      msgPeer,
		SessionID: id,
		ICE: &icePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		},
	})
}

func (s *signalling) close() error {
	return s.ws.Close()
}
