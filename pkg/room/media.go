package room

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"
)

// SampleRate is the rate of PCM handed to an AudioSink. It matches the
// transcript stream's linear16 input.
const SampleRate = 16000

// maxFrameSamples fits the longest Opus frame (120ms) at SampleRate.
const maxFrameSamples = SampleRate * 120 / 1000

// AudioSink receives mono little-endian PCM16 decoded from a human
// participant's microphone.
type AudioSink func(identity string, pcm []byte)

// Connection is a joined media session. *lksdk.Room satisfies it.
type Connection interface {
	Disconnect()
}

var _ Connection = (*lksdk.Room)(nil)

// Dialer joins a room as the holder of token.
type Dialer func(url, token string, cb *lksdk.RoomCallback) (Connection, error)

func dialLiveKit(url, token string, cb *lksdk.RoomCallback) (Connection, error) {
	r, err := lksdk.ConnectToRoomWithToken(url, token, cb)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Join connects the bot holding token to roomName. Every audio track a
// human publishes is decoded from Opus and delivered to sink until the
// track ends or the connection is dropped.
func (g *Gateway) Join(roomName, token string, sink AudioSink) (Connection, error) {
	if g.url == "" {
		return nil, errors.New("room: server URL required to join")
	}
	if sink == nil {
		return nil, errors.New("room: audio sink required")
	}

	logger := g.logger.With("room", roomName)
	cb := &lksdk.RoomCallback{
		OnDisconnected: func() {
			logger.Debug("media session closed")
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio || IsBotIdentity(rp.Identity()) {
					return
				}
				logger.Info("audio track subscribed",
					"participant", rp.Identity(),
					"track", pub.SID(),
					"codec", track.Codec().MimeType,
				)
				go g.pump(roomName, rp.Identity(), readTrack(track), sink)
			},
		},
	}

	conn, err := g.dial(g.url, token, cb)
	if err != nil {
		return nil, fmt.Errorf("room: join %s: %w", roomName, err)
	}
	logger.Debug("joined room")
	return conn, nil
}

// packetReader returns the next RTP packet of a track.
type packetReader func() (*rtp.Packet, error)

func readTrack(t *webrtc.TrackRemote) packetReader {
	return func() (*rtp.Packet, error) {
		pkt, _, err := t.ReadRTP()
		return pkt, err
	}
}

// pump decodes one participant's track into sink until read fails.
func (g *Gateway) pump(roomName, identity string, read packetReader, sink AudioSink) {
	logger := g.logger.With("room", roomName, "participant", identity)

	dec, err := newOpusDecoder()
	if err != nil {
		logger.Error("opus decoder", "error", err)
		return
	}

	decodeErrors := 0
	for {
		pkt, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("audio track read stopped", "error", err)
			}
			return
		}
		pcm, err := dec.decode(pkt)
		if err != nil {
			decodeErrors++
			if decodeErrors <= 5 {
				logger.Warn("opus decode failed", "error", err, "payload", len(pkt.Payload))
			}
			continue
		}
		if len(pcm) > 0 {
			sink(identity, pcm)
		}
	}
}

type opusDecoder struct {
	dec *opus.Decoder
	buf []int16
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, err
	}
	return &opusDecoder{dec: dec, buf: make([]int16, maxFrameSamples)}, nil
}

// decode turns one Opus packet into PCM16 bytes. Empty packets yield nil.
func (d *opusDecoder) decode(pkt *rtp.Packet) ([]byte, error) {
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil, nil
	}
	n, err := d.dec.Decode(pkt.Payload, d.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(d.buf[i]))
	}
	return out, nil
}
