package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

// BrokerConfig configures the external HTTPS broker backend.
type BrokerConfig struct {
	// Endpoint is the broker base URL, e.g. https://broker.internal:8443.
	Endpoint string
	// Secret signs the HS256 bearer tokens the broker expects.
	Secret string
	// Issuer is the token issuer claim.
	Issuer string
	// LongPollWait is the server-side wait passed on Receive. Zero disables
	// long polling.
	LongPollWait time.Duration
	// VisibilityTimeout is how long a received message stays invisible
	// before the broker may re-deliver it.
	VisibilityTimeout time.Duration
	// HTTPTimeout bounds each request; it must exceed LongPollWait.
	HTTPTimeout time.Duration
}

// Broker is the external-broker backend: at-least-once delivery over HTTPS
// with long-poll receive and a visibility interval. Receive acknowledges
// (deletes) the message before returning; a crash between receipt and
// acknowledgment leads to re-delivery after the visibility interval, which
// the repository's idempotent save tolerates.
type Broker struct {
	cfg    BrokerConfig
	client *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewBroker builds a broker client from config.
func NewBroker(cfg BrokerConfig) (*Broker, error) {
	if _, err := url.Parse(cfg.Endpoint); err != nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("broker endpoint %q is not a valid URL", cfg.Endpoint)
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = cfg.LongPollWait + 10*time.Second
	}
	return &Broker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

var _ Queue = (*Broker)(nil)

// bearer mints (or reuses) an HS256 token for the broker.
func (b *Broker) bearer() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" && time.Until(b.tokenExp) > time.Minute {
		return b.token, nil
	}
	var exp = time.Now().Add(15 * time.Minute)
	var tok = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    b.cfg.Issuer,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := tok.SignedString([]byte(b.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing broker token: %w", err)
	}
	b.token, b.tokenExp = signed, exp
	return signed, nil
}

func (b *Broker) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.Endpoint+path, rd)
	if err != nil {
		return nil, err
	}
	token, err := b.bearer()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := b.client.Do(req)
	if err != nil {
		brokerErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		brokerErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("%w: broker returned %s", ErrUnhealthy, resp.Status)
	}
	return resp, nil
}

// Send publishes the payload to the named queue.
func (b *Broker) Send(ctx context.Context, name string, payload []byte) error {
	resp, err := b.do(ctx, http.MethodPost, "/queues/"+url.PathEscape(name)+"/messages", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("broker send to %s returned %s", name, resp.Status)
	}
	brokerSends.WithLabelValues(name).Inc()
	return nil
}

// Receive long-polls the named queue, acknowledges the message, and returns
// its payload. ok=false means the queue was empty within the poll wait.
func (b *Broker) Receive(ctx context.Context, name string) ([]byte, bool, error) {
	var q = url.Values{}
	if b.cfg.LongPollWait > 0 {
		q.Set("wait", fmt.Sprintf("%.0f", b.cfg.LongPollWait.Seconds()))
	}
	if b.cfg.VisibilityTimeout > 0 {
		q.Set("visibility", fmt.Sprintf("%.0f", b.cfg.VisibilityTimeout.Seconds()))
	}
	var path = "/queues/" + url.PathEscape(name) + "/messages"
	if len(q) != 0 {
		path += "?" + q.Encode()
	}

	resp, err := b.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("broker receive from %s returned %s", name, resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading broker payload: %w", err)
	}

	if receipt := resp.Header.Get("X-Receipt-Handle"); receipt != "" {
		if err := b.ack(ctx, name, receipt); err != nil {
			// The broker will re-deliver after the visibility interval;
			// downstream idempotence absorbs the duplicate.
			log.WithFields(log.Fields{"queue": name, "err": err}).
				Warn("failed to acknowledge broker message")
		}
	}
	brokerReceives.WithLabelValues(name).Inc()
	return payload, true, nil
}

func (b *Broker) ack(ctx context.Context, name, receipt string) error {
	resp, err := b.do(ctx, http.MethodDelete,
		"/queues/"+url.PathEscape(name)+"/messages/"+url.PathEscape(receipt), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("broker ack returned %s", resp.Status)
	}
	return nil
}

// Health probes the broker's health endpoint.
func (b *Broker) Health(ctx context.Context) bool {
	resp, err := b.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stats fetches the broker's counters for the named queue.
func (b *Broker) Stats(ctx context.Context, name string) (Stats, error) {
	resp, err := b.do(ctx, http.MethodGet, "/queues/"+url.PathEscape(name)+"/stats", nil)
	if err != nil {
		return Stats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Stats{}, fmt.Errorf("broker stats for %s returned %s", name, resp.Status)
	}
	var out Stats
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Stats{}, fmt.Errorf("decoding broker stats: %w", err)
	}
	return out, nil
}
