package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-session/internal/session"
)

var (
	ErrMissingServerURL = errors.New("LIVEKIT_URL is not set")
	ErrMissingToken     = errors.New("token endpoint returned no access token")
	ErrTokenExpired     = errors.New("access token already expired")
)

const maxBodySize = 1 << 20

// Fetcher obtains room credentials from the application's token endpoint.
type Fetcher struct {
	serverURL string
	endpoint  string
	client    *http.Client
	now       func() time.Time
	logger    zerolog.Logger
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

func NewFetcher(serverURL, endpoint string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		serverURL: strings.TrimSpace(serverURL),
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
		logger:    log.With().Str("module", "credentials").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ session.CredentialSource = (*Fetcher)(nil)

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// accessClaims are the parts of a LiveKit access token the client reads.
type accessClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Video struct {
		Room     string `json:"room,omitempty"`
		RoomJoin bool   `json:"roomJoin,omitempty"`
	} `json:"video"`
}

func (f *Fetcher) Fetch(ctx context.Context) (session.Credentials, error) {
	if f.serverURL == "" {
		return session.Credentials{}, ErrMissingServerURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return session.Credentials{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return session.Credentials{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return session.Credentials{}, fmt.Errorf("token endpoint: %s: %s", resp.Status, serverMessage(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return session.Credentials{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return session.Credentials{}, ErrMissingToken
	}

	creds := session.Credentials{ServerURL: f.serverURL, Token: tr.AccessToken}
	f.inspect(&creds)
	if !creds.ExpiresAt.IsZero() && !creds.ExpiresAt.After(f.now()) {
		return session.Credentials{}, fmt.Errorf("%w at %s", ErrTokenExpired, creds.ExpiresAt.Format(time.RFC3339))
	}
	f.logger.Debug().Str("identity", creds.Identity).Str("room", creds.Room).Msg("Credentials issued")
	return creds, nil
}

// inspect fills identity, room and expiry from the token. The token is
// verified by the media server, not here; unreadable claims are ignored.
func (f *Fetcher) inspect(creds *session.Credentials) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(creds.Token, &claims); err != nil {
		f.logger.Debug().Err(err).Msg("Access token claims not readable")
		return
	}
	creds.Identity = claims.Subject
	creds.Room = claims.Video.Room
	if claims.ExpiresAt != nil {
		creds.ExpiresAt = claims.ExpiresAt.Time
	}
}

// serverMessage extracts {"message"} or {"detail"} from an error body.
func serverMessage(body []byte) string {
	var msg struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &msg); err == nil {
		if msg.Message != "" {
			return msg.Message
		}
		if msg.Detail != "" {
			return msg.Detail
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "no details"
	}
	return s
}
