// Package room wraps the real-time media room service: room creation, access
// tokens, participant discovery and subscription, data broadcasts, and the
// bot's own media session that turns participant audio into PCM.
//
// Room management failures other than token minting are best effort: they
// are logged and never returned, so one misbehaving room cannot block other
// sessions or process shutdown.
package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// BotSuffix marks bot identities; broadcasts skip them.
const BotSuffix = "-bot"

// Broadcast topic on the data channel.
const Topic = "persona-audio"

// Service is the subset of the room service API the gateway uses.
// *lksdk.RoomServiceClient satisfies it.
type Service interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	ListParticipants(ctx context.Context, req *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error)
	UpdateSubscriptions(ctx context.Context, req *livekit.UpdateSubscriptionsRequest) (*livekit.UpdateSubscriptionsResponse, error)
	SendData(ctx context.Context, req *livekit.SendDataRequest) (*livekit.SendDataResponse, error)
	RemoveParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.RemoveParticipantResponse, error)
}

var _ Service = (*lksdk.RoomServiceClient)(nil)

// Mirror receives a copy of every broadcast payload, e.g. for local monitors.
type Mirror interface {
	Publish(roomName string, payload []byte)
}

// Payload is the audio broadcast message.
type Payload struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Persona   string `json:"persona"`
	Timestamp int64  `json:"timestamp"`
}

// NewAudioPayload builds an audio broadcast stamped with t in epoch ms.
func NewAudioPayload(persona, url string, t time.Time) Payload {
	return Payload{Type: "audio", URL: url, Persona: persona, Timestamp: t.UnixMilli()}
}

// Participant is a room member.
type Participant struct {
	Identity    string
	Name        string
	AudioTracks []string
}

// IsBot reports whether the participant is a persona bot.
func (p Participant) IsBot() bool {
	return IsBotIdentity(p.Identity)
}

// IsBotIdentity reports whether identity belongs to a persona bot.
func IsBotIdentity(identity string) bool {
	return strings.HasSuffix(identity, BotSuffix)
}

// BotIdentity is the deterministic identity of a persona's bot.
func BotIdentity(persona string) string {
	return strings.ToLower(persona) + BotSuffix
}

// Gateway performs all room service interaction.
type Gateway struct {
	svc    Service
	tokens *TokenMinter
	url    string
	clips  *ClipStore
	mirror Mirror
	dial   Dialer
	logger *slog.Logger

	emptyTimeout uint32
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClipStore sets the store used to publish audio URLs.
func WithClipStore(s *ClipStore) Option {
	return func(g *Gateway) { g.clips = s }
}

// WithMirror copies broadcasts to m.
func WithMirror(m Mirror) Option {
	return func(g *Gateway) { g.mirror = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithDialer replaces how the bot joins a room's media session.
func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dial = d }
}

// WithEmptyTimeout sets how long an empty room lives after creation.
func WithEmptyTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.emptyTimeout = uint32(d / time.Second) }
}

// NewGateway creates a gateway over svc. url is the client-facing websocket
// URL handed out with tokens.
func NewGateway(svc Service, tokens *TokenMinter, url string, opts ...Option) *Gateway {
	g := &Gateway{
		svc:          svc,
		tokens:       tokens,
		url:          url,
		dial:         dialLiveKit,
		logger:       slog.Default(),
		emptyTimeout: 300,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.clips == nil {
		g.clips = NewClipStore("", 0, 0)
	}
	g.logger = g.logger.With("component", "room.Gateway")
	return g
}

// NewLiveKit creates a gateway backed by a LiveKit server.
func NewLiveKit(url, apiKey, apiSecret string, opts ...Option) (*Gateway, error) {
	tokens, err := NewTokenMinter(apiKey, apiSecret, DefaultTokenTTL)
	if err != nil {
		return nil, err
	}
	svc := lksdk.NewRoomServiceClient(httpURL(url), apiKey, apiSecret)
	return NewGateway(svc, tokens, url, opts...), nil
}

// httpURL converts a websocket server URL to its HTTP API base.
func httpURL(u string) string {
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}

// URL returns the client-facing server URL.
func (g *Gateway) URL() string {
	return g.url
}

// Clips returns the clip store.
func (g *Gateway) Clips() *ClipStore {
	return g.clips
}

// EnsureRoom creates the room if needed. An existing room is success.
func (g *Gateway) EnsureRoom(ctx context.Context, roomName, metadata string) error {
	_, err := g.svc.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:         roomName,
		EmptyTimeout: g.emptyTimeout,
		Metadata:     metadata,
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			g.logger.Debug("room already exists", "room", roomName)
			return nil
		}
		return err
	}
	g.logger.Debug("room ensured", "room", roomName)
	return nil
}

// MintBotToken signs a token for the persona's bot identity on roomName.
func (g *Gateway) MintBotToken(roomName, persona string) (string, error) {
	identity := BotIdentity(persona)
	return g.tokens.Mint(roomName, identity, identity)
}

// MintToken signs a token for a human participant.
func (g *Gateway) MintToken(roomName, participantName string) (string, error) {
	return g.tokens.Mint(roomName, participantName, participantName)
}

// ListParticipants returns the room's participants.
func (g *Gateway) ListParticipants(ctx context.Context, roomName string) ([]Participant, error) {
	resp, err := g.svc.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: roomName})
	if err != nil {
		return nil, err
	}
	out := make([]Participant, 0, len(resp.GetParticipants()))
	for _, p := range resp.GetParticipants() {
		part := Participant{Identity: p.GetIdentity(), Name: p.GetName()}
		for _, t := range p.GetTracks() {
			if t.GetType() == livekit.TrackType_AUDIO {
				part.AudioTracks = append(part.AudioTracks, t.GetSid())
			}
		}
		out = append(out, part)
	}
	return out, nil
}

// SubscribeToParticipant subscribes the bot to a participant's audio
// tracks. Subscribing again is harmless. Failures are logged.
func (g *Gateway) SubscribeToParticipant(ctx context.Context, roomName, botIdentity string, p Participant) {
	if len(p.AudioTracks) == 0 {
		return
	}
	_, err := g.svc.UpdateSubscriptions(ctx, &livekit.UpdateSubscriptionsRequest{
		Room:      roomName,
		Identity:  botIdentity,
		TrackSids: p.AudioTracks,
		Subscribe: true,
	})
	if err != nil {
		g.logger.Warn("subscribe failed",
			"room", roomName,
			"participant", p.Identity,
			"error", err,
		)
	}
}

// SubscribeAll lists participants and subscribes the bot to every human.
// It returns how many participants were considered.
func (g *Gateway) SubscribeAll(ctx context.Context, roomName, botIdentity string) int {
	parts, err := g.ListParticipants(ctx, roomName)
	if err != nil {
		g.logger.Warn("list participants failed", "room", roomName, "error", err)
		return 0
	}
	n := 0
	for _, p := range parts {
		if p.IsBot() {
			continue
		}
		g.SubscribeToParticipant(ctx, roomName, botIdentity, p)
		n++
	}
	return n
}

// Broadcast sends payload to every non-bot participant over the reliable
// data channel. Failures are logged and swallowed.
func (g *Gateway) Broadcast(ctx context.Context, roomName string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error("marshal broadcast", "room", roomName, "error", err)
		return
	}

	if g.mirror != nil {
		g.mirror.Publish(roomName, data)
	}

	parts, err := g.ListParticipants(ctx, roomName)
	if err != nil {
		g.logger.Warn("broadcast skipped, list participants failed", "room", roomName, "error", err)
		return
	}
	var dest []string
	for _, p := range parts {
		if !p.IsBot() {
			dest = append(dest, p.Identity)
		}
	}
	if len(dest) == 0 {
		g.logger.Debug("broadcast skipped, no listeners", "room", roomName)
		return
	}

	topic := Topic
	_, err = g.svc.SendData(ctx, &livekit.SendDataRequest{
		Room:                  roomName,
		Data:                  data,
		Kind:                  livekit.DataPacket_RELIABLE,
		DestinationIdentities: dest,
		Topic:                 &topic,
	})
	if err != nil {
		g.logger.Warn("broadcast failed", "room", roomName, "error", err)
		return
	}
	g.logger.Debug("broadcast sent", "room", roomName, "recipients", len(dest), "bytes", len(data))
}

// RemoveBotFromRoom removes the persona's bot identity. Failures are logged.
func (g *Gateway) RemoveBotFromRoom(ctx context.Context, roomName, persona string) {
	identity := BotIdentity(persona)
	_, err := g.svc.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     roomName,
		Identity: identity,
	})
	if err != nil {
		g.logger.Warn("remove bot failed", "room", roomName, "identity", identity, "error", err)
		return
	}
	g.logger.Debug("bot removed", "room", roomName, "identity", identity)
}
