// Package webrtc streams avatar speech to a browser over a pion
// PeerConnection. Each session gets one ordered "speech" data channel; the
// client renders the avatar from the commands it receives.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

const (
	iceServersKey    = "avatar.ice_servers"
	gatherTimeoutKey = "avatar.gather_timeout"

	speechChannelLabel   = "speech"
	defaultGatherTimeout = 5 * time.Second
)

var _ ports.AvatarProvider = (*Provider)(nil)

// command is the JSON frame sent on the speech channel.
type command struct {
	Type      string `json:"type"`
	SourceRef string `json:"source_ref,omitempty"`
	Text      string `json:"text,omitempty"`
}

type peerState struct {
	handle     string
	sourceRef  string
	connection *webrtc.PeerConnection
	speech     *webrtc.DataChannel
	opened     chan struct{}
}

type Provider struct {
	api           *webrtc.API
	iceServers    []webrtc.ICEServer
	gatherTimeout time.Duration
	logger        *slog.Logger

	mu    sync.Mutex
	peers map[string]*peerState
}

func New(cfg *viper.Viper, logger *slog.Logger) *Provider {
	if cfg == nil {
		cfg = viper.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var servers []webrtc.ICEServer
	if urls := cfg.GetStringSlice(iceServersKey); len(urls) > 0 {
		servers = []webrtc.ICEServer{{URLs: urls}}
	}
	gatherTimeout := cfg.GetDuration(gatherTimeoutKey)
	if gatherTimeout <= 0 {
		gatherTimeout = defaultGatherTimeout
	}

	// Loopback candidates keep same-host clients and tests working.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	return &Provider{
		api:           webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		iceServers:    servers,
		gatherTimeout: gatherTimeout,
		logger:        logger,
		peers:         map[string]*peerState{},
	}
}

// OpenSession creates the PeerConnection and returns a complete offer once
// ICE gathering finished (vanilla ICE). Candidates discovered later by the
// client still arrive through SubmitCandidate.
func (p *Provider) OpenSession(ctx context.Context, sourceRef string) (ports.AvatarSession, error) {
	pc, err := p.api.NewPeerConnection(webrtc.Configuration{ICEServers: p.iceServers})
	if err != nil {
		return ports.AvatarSession{}, domain.ProviderFailure(fmt.Errorf("create peer connection: %w", err))
	}

	peer := &peerState{
		handle:     uuid.NewString(),
		sourceRef:  sourceRef,
		connection: pc,
		opened:     make(chan struct{}),
	}

	ordered := true
	speech, err := pc.CreateDataChannel(speechChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return ports.AvatarSession{}, domain.ProviderFailure(fmt.Errorf("create speech channel: %w", err))
	}
	peer.speech = speech
	speech.OnOpen(func() {
		close(peer.opened)
		if err := p.send(peer, command{Type: "source", SourceRef: peer.sourceRef}); err != nil {
			p.logger.Warn("avatar source announcement failed", "handle", peer.handle, "error", err)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.logger.Debug("avatar ICE state", "handle", peer.handle, "state", state.String())
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return ports.AvatarSession{}, domain.ProviderFailure(fmt.Errorf("create offer: %w", err))
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return ports.AvatarSession{}, domain.ProviderFailure(fmt.Errorf("set local description: %w", err))
	}

	select {
	case <-gatherComplete:
	case <-time.After(p.gatherTimeout):
		_ = pc.Close()
		return ports.AvatarSession{}, domain.ProviderFailure(fmt.Errorf("ICE gathering timed out after %s", p.gatherTimeout))
	case <-ctx.Done():
		_ = pc.Close()
		return ports.AvatarSession{}, ctx.Err()
	}

	p.mu.Lock()
	p.peers[peer.handle] = peer
	p.mu.Unlock()

	p.logger.Info("avatar session opened", "handle", peer.handle, "source_ref", sourceRef)
	return ports.AvatarSession{Handle: peer.handle, Offer: pc.LocalDescription().SDP}, nil
}

func (p *Provider) CompleteNegotiation(_ context.Context, handle, answer string) error {
	peer, err := p.peer(handle)
	if err != nil {
		return err
	}

	description := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}
	if err := peer.connection.SetRemoteDescription(description); err != nil {
		return domain.ProviderFailure(fmt.Errorf("set remote description for %s: %w", handle, err))
	}
	return nil
}

func (p *Provider) SubmitCandidate(_ context.Context, handle, candidate string) error {
	peer, err := p.peer(handle)
	if err != nil {
		return err
	}

	if err := peer.connection.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return domain.ProviderFailure(fmt.Errorf("add ICE candidate for %s: %w", handle, err))
	}
	return nil
}

// Speak fails with domain.ErrProviderUnavailable until the client has
// connected and the speech channel is open.
func (p *Provider) Speak(_ context.Context, handle, text string) error {
	peer, err := p.peer(handle)
	if err != nil {
		return err
	}

	select {
	case <-peer.opened:
	default:
		return domain.ProviderFailure(fmt.Errorf("speech channel for %s is not open", handle))
	}
	return p.send(peer, command{Type: "speak", Text: text})
}

func (p *Provider) CloseSession(_ context.Context, handle string) error {
	p.mu.Lock()
	peer, ok := p.peers[handle]
	delete(p.peers, handle)
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("avatar session %s: %w", handle, domain.ErrNotFound)
	}
	if err := peer.connection.Close(); err != nil {
		return domain.ProviderFailure(fmt.Errorf("close peer connection %s: %w", handle, err))
	}
	p.logger.Info("avatar session closed", "handle", handle)
	return nil
}

// Close tears down every open session.
func (p *Provider) Close() error {
	p.mu.Lock()
	peers := p.peers
	p.peers = map[string]*peerState{}
	p.mu.Unlock()

	for handle, peer := range peers {
		if err := peer.connection.Close(); err != nil {
			p.logger.Warn("closing avatar session failed", "handle", handle, "error", err)
		}
	}
	return nil
}

func (p *Provider) peer(handle string) (*peerState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	peer, ok := p.peers[handle]
	if !ok {
		return nil, fmt.Errorf("avatar session %s: %w", handle, domain.ErrNotFound)
	}
	return peer, nil
}

func (p *Provider) send(peer *peerState, frame command) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", frame.Type, err)
	}
	if err := peer.speech.SendText(string(payload)); err != nil {
		return domain.ProviderFailure(fmt.Errorf("send %s command to %s: %w", frame.Type, peer.handle, err))
	}
	return nil
}
