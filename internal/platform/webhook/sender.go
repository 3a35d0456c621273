// Package webhook delivers effects produced outside a request, such as those
// built from ADT feeds, to an HTTP endpoint. Bodies are signed with
// HMAC-SHA256 so the receiver can authenticate them.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	DeliveryHeader  = "X-Webhook-Delivery"
	EventHeader     = "X-Webhook-Event"
	TimestampHeader = "X-Webhook-Timestamp"
)

// Event is the delivered envelope.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" or bare hex signature.
func VerifySignature(payload []byte, secret, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.httpClient = c }
}

// WithRetryDelays sets the wait before each retry; its length is the
// number of retries.
func WithRetryDelays(d ...time.Duration) Option {
	return func(s *Sender) { s.retryDelays = d }
}

type Sender struct {
	url         string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
	logger      zerolog.Logger
}

func NewSender(rawURL, secret string, logger zerolog.Logger, opts ...Option) (*Sender, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid url %q", rawURL)
	}
	s := &Sender{
		url:         rawURL,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Send delivers data as an event of type eventType. 5xx responses and
// transport errors are retried; 4xx responses are not.
func (s *Sender) Send(ctx context.Context, eventType string, data interface{}) error {
	ev := Event{ID: uuid.NewString(), Type: eventType, Timestamp: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", eventType, err)
	}
	sig := SignPayload(payload, s.secret)
	log := s.logger.With().Str("delivery", ev.ID).Str("event", eventType).Logger()

	for attempt := 0; ; attempt++ {
		retry, err := s.post(ctx, ev, payload, sig)
		if err == nil {
			log.Debug().Int("attempt", attempt+1).Msg("delivered")
			return nil
		}
		if !retry || attempt >= len(s.retryDelays) {
			log.Error().Err(err).Int("attempt", attempt+1).Msg("delivery failed")
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", s.retryDelays[attempt]).Msg("delivery failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelays[attempt]):
		}
	}
}

func (s *Sender) post(ctx context.Context, ev Event, payload []byte, sig string) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+sig)
	req.Header.Set(DeliveryHeader, ev.ID)
	req.Header.Set(EventHeader, ev.Type)
	req.Header.Set(TimestampHeader, ev.Timestamp.Format(time.RFC3339))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook: status %d: %s", resp.StatusCode, body)
	default:
		return false, fmt.Errorf("webhook: status %d: %s", resp.StatusCode, body)
	}
}
