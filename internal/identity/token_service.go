// Package identity issues access tokens scoped to a single transport room.
// The relay server runs the issuing side; clients consume it through the
// TokenIssuer port.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/fx"

	"breakout-platform/internal/config"
)

const (
	_ROOM_CLAIM        = "room:name"
	_RECORD_CLAIM      = "room:record"
	_OWNER_CLAIM       = "participant:owner"
	_DEFAULT_TOKEN_TTL = time.Hour
)

var (
	ErrEmptyRoomName      = errors.New("room name is empty")
	ErrEmptyParticipantID = errors.New("participant id is empty")
	ErrTokenInvalid       = errors.New("token is not valid for any room")
)

type TokenService struct {
	signKey jwk.Key
	issuer  string
	ttl     time.Duration
	logger  *slog.Logger
}

type RoomGrant struct {
	RoomName      string
	ParticipantID string
	IsOwner       bool
	RecordSession bool
}

// CreateRoomToken signs a token that admits one participant into one
// transport room. The record flag rides along so the call provider can flag
// recording eligibility for breakout rooms.
func (s *TokenService) CreateRoomToken(grant RoomGrant) (string, error) {
	if grant.RoomName == "" {
		return "", ErrEmptyRoomName
	}
	if grant.ParticipantID == "" {
		return "", ErrEmptyParticipantID
	}

	expiresAt := time.Now().Add(s.ttl)

	b := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(grant.ParticipantID).
		Expiration(expiresAt)

	token, err := b.Build()
	if err != nil {
		return "", err
	}

	if err = token.Set(_ROOM_CLAIM, grant.RoomName); err != nil {
		return "", fmt.Errorf("unable set `%s` claim. Error: %s", _ROOM_CLAIM, err)
	}
	if err = token.Set(_RECORD_CLAIM, grant.RecordSession); err != nil {
		return "", fmt.Errorf("unable set `%s` claim. Error: %s", _RECORD_CLAIM, err)
	}
	if err = token.Set(_OWNER_CLAIM, grant.IsOwner); err != nil {
		return "", fmt.Errorf("unable set `%s` claim. Error: %s", _OWNER_CLAIM, err)
	}

	byteToken, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, s.signKey))
	if err != nil {
		return "", err
	}
	return string(byteToken), nil
}

// VerifyRoomToken validates signature and expiry and returns the grant the
// token was issued for.
func (s *TokenService) VerifyRoomToken(raw string) (RoomGrant, error) {
	pub, err := s.signKey.PublicKey()
	if err != nil {
		return RoomGrant{}, err
	}

	token, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.RS256, pub), jwt.WithValidate(true))
	if err != nil {
		return RoomGrant{}, errors.Join(ErrTokenInvalid, err)
	}

	grant := RoomGrant{ParticipantID: token.Subject()}

	roomName, ok := token.Get(_ROOM_CLAIM)
	if !ok {
		return RoomGrant{}, ErrTokenInvalid
	}
	grant.RoomName, _ = roomName.(string)
	if grant.RoomName == "" {
		return RoomGrant{}, ErrTokenInvalid
	}

	if record, ok := token.Get(_RECORD_CLAIM); ok {
		grant.RecordSession, _ = record.(bool)
	}
	if isOwner, ok := token.Get(_OWNER_CLAIM); ok {
		grant.IsOwner, _ = isOwner.(bool)
	}
	return grant, nil
}

type NewTokenServiceParams struct {
	fx.In

	Config *config.Config
	Logger *slog.Logger
}

func NewTokenService(params NewTokenServiceParams) (*TokenService, error) {
	message := []byte(params.Config.TokenPrivateKey)
	if len(message) == 0 {
		params.Logger.Warn("TOKEN_PRIVATE_KEY not set, generating an ephemeral signing key")
		generated, err := RSA256PkeyAsJwkMessage()
		if err != nil {
			return nil, err
		}
		message = generated
	}

	signKey, err := jwk.ParseKey(message)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	ttl := params.Config.TokenTTL
	if ttl <= 0 {
		ttl = _DEFAULT_TOKEN_TTL
	}

	return &TokenService{
		signKey: signKey,
		issuer:  params.Config.TokenIssuer,
		ttl:     ttl,
		logger:  params.Logger,
	}, nil
}
