// Package auth gates collaborative sessions: it validates bearer
// credentials against a target room by delegating to the external token
// authority. It never decides validity on its own; every local check can
// only reject.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/gonotes/collabd/internal/room"
)

const defaultAuthorityTimeout = 5 * time.Second

var (
	// ErrDenied indicates that the credential was rejected, the authority
	// was unreachable, or the authority call timed out. The causes are
	// deliberately indistinguishable to callers.
	ErrDenied = errors.New("auth: denied")
	// ErrInvalidGateConfig indicates a misconfigured gate.
	ErrInvalidGateConfig = errors.New("auth: invalid gate config")

	errMissingAuthorityURL = errors.New("authority url required")
)

// Claims carries the identity the authority attached to an authorized
// connection.
type Claims struct {
	UserID      int64
	WorkspaceID int64
}

// GateConfig bundles configuration for the authorization gate.
type GateConfig struct {
	// AuthorityURL is the endpoint of the external authority that owns
	// credential validation and workspace membership.
	AuthorityURL string
	HTTPClient   *http.Client
	Timeout      time.Duration
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Gate authorizes connection attempts against a room.
type Gate struct {
	authorityURL string
	httpClient   *http.Client
	timeout      time.Duration
	logger       *zap.Logger
	clock        func() time.Time
}

// NewGate constructs a Gate with validated configuration.
func NewGate(cfg GateConfig) (*Gate, error) {
	authorityURL := strings.TrimSpace(cfg.AuthorityURL)
	if authorityURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGateConfig, errMissingAuthorityURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAuthorityTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		authorityURL: authorityURL,
		httpClient:   httpClient,
		timeout:      timeout,
		logger:       logger,
		clock:        clock,
	}, nil
}

type validationRequest struct {
	RoomID      string `json:"room_id"`
	WorkspaceID int64  `json:"workspace_id"`
	NoteID      int64  `json:"note_id"`
}

type validationResponse struct {
	Valid  bool  `json:"valid"`
	UserID int64 `json:"user_id"`
}

// Authorize validates the credential for the raw room identifier. The room
// id is parsed before anything else; a malformed id fails with
// room.ErrMalformedID without contacting the authority. Every other
// failure mode collapses to ErrDenied.
func (g *Gate) Authorize(ctx context.Context, credential string, rawRoomID string) (Claims, error) {
	roomID, err := room.ParseID(rawRoomID)
	if err != nil {
		return Claims{}, err
	}

	if strings.TrimSpace(credential) == "" {
		return Claims{}, fmt.Errorf("%w: missing credential", ErrDenied)
	}
	if err := g.precheckCredential(credential); err != nil {
		g.logger.Warn("credential rejected before authority call",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
		return Claims{}, fmt.Errorf("%w: %v", ErrDenied, err)
	}

	claims, err := g.delegate(ctx, credential, roomID)
	if err != nil {
		g.logger.Warn("authority rejected connection",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
		return Claims{}, fmt.Errorf("%w: %v", ErrDenied, err)
	}
	return claims, nil
}

// precheckCredential rejects credentials that are structurally broken or
// already expired without spending an authority round trip. The signature
// is not verified here; acceptance stays with the authority.
func (g *Gate) precheckCredential(credential string) error {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(credential, &claims); err != nil {
		return fmt.Errorf("credential does not parse: %v", err)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(g.clock()) {
		return errors.New("credential expired")
	}
	return nil
}

func (g *Gate) delegate(ctx context.Context, credential string, roomID room.ID) (Claims, error) {
	body, err := json.Marshal(validationRequest{
		RoomID:      roomID.String(),
		WorkspaceID: roomID.WorkspaceID(),
		NoteID:      roomID.NoteID(),
	})
	if err != nil {
		return Claims{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.authorityURL, bytes.NewReader(body))
	if err != nil {
		return Claims{}, err
	}
	request.Header.Set("Authorization", "Bearer "+credential)
	request.Header.Set("Content-Type", "application/json")

	response, err := g.httpClient.Do(request)
	if err != nil {
		return Claims{}, fmt.Errorf("authority unreachable: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Claims{}, fmt.Errorf("authority returned status %d", response.StatusCode)
	}

	var decision validationResponse
	if err := json.NewDecoder(response.Body).Decode(&decision); err != nil {
		return Claims{}, fmt.Errorf("authority response unreadable: %v", err)
	}
	if !decision.Valid {
		return Claims{}, errors.New("authority reported credential invalid")
	}

	return Claims{UserID: decision.UserID, WorkspaceID: roomID.WorkspaceID()}, nil
}
