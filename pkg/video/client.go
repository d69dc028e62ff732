// Package video implements camera.Source over a WebRTC H264 stream
// negotiated through a GStreamer webrtcsink signalling server.
//
// The client receives RTP, keeps the current group of pictures and decodes
// it to JPEG in the background, so CaptureFrame always returns the most
// recently decoded picture without blocking on the network.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG for DecodeConfig
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/teslashibe/go-cardsense/pkg/camera"
)

// Client is a WebRTC capture source.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *conn

	frameMu sync.RWMutex
	latest  camera.Frame

	decoded atomic.Int64
	dropped atomic.Int64
}

// conn is one negotiated session. It is replaced on every Open.
type conn struct {
	sig     *signalling
	pc      *webrtc.PeerConnection
	decoder Decoder
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	trackOnce sync.Once
	track     chan struct{}
	pending   chan []byte
	closing   atomic.Bool
}

// New creates an unopened client.
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "video.webrtc"),
	}
}

// Open negotiates a session and waits for the video track.
// The facing constraint does not apply to a remote stream; Quality sets
// the ffmpeg JPEG quality.
func (c *Client) Open(ctx context.Context, cfg camera.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.closeLocked()
	}
	if c.cfg.SignallingURL == "" {
		return fmt.Errorf("%w: no signalling url", camera.ErrNotFound)
	}

	if _, ok := ctx.Deadline(); !ok && c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	c.logger.Info("connecting to signalling server", "url", c.cfg.SignallingURL)
	sig, err := dialSignalling(ctx, c.cfg.SignallingURL)
	if err != nil {
		return fmt.Errorf("%w: signalling %s: %v", camera.ErrNotFound, c.cfg.SignallingURL, err)
	}

	peerID, err := sig.welcome(ctx)
	if err != nil {
		sig.close()
		return fmt.Errorf("video: welcome: %w", err)
	}
	producerID, err := sig.findProducer(ctx, c.cfg.ProducerName)
	if err != nil {
		sig.close()
		if errors.Is(err, ErrNoProducer) {
			return fmt.Errorf("%w: %w", camera.ErrNotFound, err)
		}
		return fmt.Errorf("video: list producers: %w", err)
	}
	c.logger.Debug("found producer", "peer", peerID, "producer", producerID)

	decoder := c.cfg.Decoder
	if decoder == nil {
		decoder = &FFmpegDecoder{Quality: FFmpegQuality(cfg.Quality)}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cn := &conn{
		sig:     sig,
		decoder: decoder,
		cancel:  cancel,
		track:   make(chan struct{}),
		pending: make(chan []byte, 1),
	}

	if err := c.createPeerConnection(cn); err != nil {
		cn.close()
		return fmt.Errorf("video: peer connection: %w", err)
	}
	if err := sig.startSession(producerID); err != nil {
		cn.close()
		return fmt.Errorf("video: start session: %w", err)
	}

	cn.wg.Add(2)
	go c.handleSignalling(cn)
	go c.decodeLoop(runCtx, cn)

	select {
	case <-cn.track:
	case <-ctx.Done():
		cn.close()
		return fmt.Errorf("video: waiting for video track: %w", ctx.Err())
	}

	c.conn = cn
	c.logger.Info("video connected", "producer", producerID)
	return nil
}

func (c *Client) createPeerConnection(cn *conn) error {
	var config webrtc.Configuration
	if len(c.cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: c.cfg.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return err
	}
	cn.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		mime := track.Codec().MimeType
		c.logger.Info("got track", "kind", track.Kind().String(), "codec", mime)
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		if !strings.EqualFold(mime, webrtc.MimeTypeH264) {
			c.logger.Warn("unsupported video codec", "codec", mime)
			return
		}
		go c.readTrack(cn, track)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := cn.sig.sendICE(candidate.ToJSON()); err != nil {
			c.logger.Debug("send ice candidate failed", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("connection state", "state", state.String())
	})

	return nil
}

func (c *Client) handleSignalling(cn *conn) {
	defer cn.wg.Done()

	for {
		m, err := cn.sig.read(context.Background())
		if err != nil {
			if !cn.closing.Load() {
				c.logger.Debug("signalling stopped", "error", err)
			}
			return
		}

		switch m.Type {
		case msgSessionStarted:
			cn.sig.setSession(m.SessionID)

		case msgPeer:
			if err := c.handlePeer(cn, m); err != nil {
				c.logger.Warn("peer message failed", "error", err)
			}

		case msgEndSession:
			c.logger.Info("producer ended session")
			return

		case msgError:
			c.logger.Warn("signalling error", "details", m.Details)
		}
	}
}

func (c *Client) handlePeer(cn *conn, m message) error {
	if m.SDP != nil && m.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP.SDP}
		if err := cn.pc.SetRemoteDescription(offer); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		answer, err := cn.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := cn.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		if err := cn.sig.sendSDP(answer); err != nil {
			return fmt.Errorf("send answer: %w", err)
		}
	}

	if m.ICE != nil {
		if err := cn.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     m.ICE.Candidate,
			SDPMid:        m.ICE.SDPMid,
			SDPMLineIndex: m.ICE.SDPMLineIndex,
		}); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}
	}
	return nil
}

// readTrack assembles RTP into access units and hands the group of
// pictures to the decode loop at most once per DecodeInterval.
func (c *Client) readTrack(cn *conn, track *webrtc.TrackRemote) {
	cn.trackOnce.Do(func() { close(cn.track) })

	asm := newAssembler(c.cfg.MaxBuffer)
	var last time.Time
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("track read stopped", "error", err)
			}
			return
		}

		ready, err := asm.push(pkt)
		if err != nil {
			c.logger.Debug("depacketize failed", "error", err)
			continue
		}
		if !ready || time.Since(last) < c.cfg.DecodeInterval {
			continue
		}
		last = time.Now()
		cn.offer(asm.snapshot())
	}
}

// offer replaces any buffer the decode loop has not picked up yet.
func (cn *conn) offer(data []byte) {
	select {
	case <-cn.pending:
	default:
	}
	select {
	case cn.pending <- data:
	default:
	}
}

func (c *Client) decodeLoop(ctx context.Context, cn *conn) {
	defer cn.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-cn.pending:
			jpg, err := cn.decoder.Decode(ctx, data)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, ErrShortInput) {
					c.logger.Debug("decode failed", "error", err)
				}
				continue
			}
			if !c.store(jpg) {
				c.dropped.Add(1)
			}
		}
	}
}

// store publishes a decoded picture. Corrupt pictures are rejected.
func (c *Client) store(jpg []byte) bool {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(jpg))
	if err != nil || LooksCorrupt(jpg) {
		return false
	}

	c.frameMu.Lock()
	c.latest = camera.Frame{
		JPEG:       jpg,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now(),
	}
	c.frameMu.Unlock()
	c.decoded.Add(1)
	return true
}

// CaptureFrame returns the most recently decoded picture.
func (c *Client) CaptureFrame(ctx context.Context) (camera.Frame, error) {
	c.mu.Lock()
	open := c.conn != nil
	c.mu.Unlock()
	if !open {
		return camera.Frame{}, camera.ErrNotActive
	}
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}

	c.frameMu.RLock()
	defer c.frameMu.RUnlock()
	if c.latest.Empty() {
		return camera.Frame{}, camera.ErrNoFrame
	}

	frame := c.latest
	frame.JPEG = make([]byte, len(c.latest.JPEG))
	copy(frame.JPEG, c.latest.JPEG)
	return frame, nil
}

// Close ends the session. It is safe to call Close multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.conn == nil {
		return
	}
	c.conn.close()
	c.conn = nil

	c.frameMu.Lock()
	c.latest = camera.Frame{}
	c.frameMu.Unlock()
	c.logger.Info("video disconnected")
}

func (cn *conn) close() {
	cn.closing.Store(true)
	cn.cancel()
	if cn.pc != nil {
		cn.pc.Close()
	}
	cn.sig.close()
	cn.wg.Wait()
}

// Name returns "webrtc".
func (c *Client) Name() string {
	return "webrtc"
}

// Stats returns how many pictures were decoded and rejected.
func (c *Client) Stats() (decoded, dropped int64) {
	return c.decoded.Load(), c.dropped.Load()
}

var _ camera.Source = (*Client)(nil)
