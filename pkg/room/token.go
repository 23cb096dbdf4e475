package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// DefaultTokenTTL is how long minted tokens stay valid.
const DefaultTokenTTL = 6 * time.Hour

// ErrNoCredentials is returned when the API key or secret is missing.
var ErrNoCredentials = errors.New("room: API key and secret are required")

// TokenMinter signs room access tokens.
type TokenMinter struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

// NewTokenMinter creates a minter. A zero ttl uses DefaultTokenTTL.
func NewTokenMinter(apiKey, apiSecret string, ttl time.Duration) (*TokenMinter, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrNoCredentials
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenMinter{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}, nil
}

// Mint signs a token letting identity join roomName with publish, subscribe
// and data permissions on that room only.
func (m *TokenMinter) Mint(roomName, identity, name string) (string, error) {
	if roomName == "" || identity == "" {
		return "", fmt.Errorf("room: room name and identity are required")
	}
	grant := &auth.VideoGrant{RoomJoin: true, Room: roomName}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(true)

	token, err := auth.NewAccessToken(m.apiKey, m.apiSecret).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(m.ttl).
		SetVideoGrant(grant).
		ToJWT()
	if err != nil {
		return "", fmt.Errorf("room: sign token: %w", err)
	}
	return token, nil
}

// Verify checks a token against this minter's key and secret and returns
// its grants.
func (m *TokenMinter) Verify(token string) (*auth.ClaimGrants, error) {
	v, err := auth.ParseAPIToken(token)
	if err != nil {
		return nil, fmt.Errorf("room: parse token: %w", err)
	}
	if v.APIKey() != m.apiKey {
		return nil, fmt.Errorf("room: token issued for key %q", v.APIKey())
	}
	grants, err := v.Verify(m.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("room: verify token: %w", err)
	}
	return grants, nil
}
