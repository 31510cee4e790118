// Package review forwards disputed battles to the ops manual-review queue.
// The coordinator never adjudicates proofs itself; humans do, and may call
// back through the administrative override.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/ludoarena/battle-coordinator/internal/battle"
)

type Client struct {
	webhookURL string
	authToken  string
	http       *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

func NewClient(webhookURL string, opts ...Option) *Client {
	c := &Client{
		webhookURL: strings.TrimRight(webhookURL, "/"),
		http:       &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout:    10 * time.Second,
		retryMax:   3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// dispute is the wire payload of one enqueued case.
type dispute struct {
	BattleID  string                  `json:"battle_id"`
	Amount    int64                   `json:"amount"`
	Claims    map[string]battle.Claim `json:"claims"`
	ProofRefs map[string]string       `json:"proof_refs"`
	QueuedAt  time.Time               `json:"queued_at"`
}

// Enqueue posts the disputed battle's claims and proof references to the
// review webhook. Retries transient failures a bounded number of times.
func (c *Client) Enqueue(ctx context.Context, b *battle.Battle) error {
	if c == nil || c.webhookURL == "" {
		return fmt.Errorf("review webhook not configured")
	}
	proofs := make(map[string]string, len(b.Result))
	for id, claim := range b.Result {
		if claim.ProofRef != "" {
			proofs[id] = claim.ProofRef
		}
	}
	payload := dispute{
		BattleID:  b.ID,
		Amount:    b.Amount,
		Claims:    b.Result,
		ProofRefs: proofs,
		QueuedAt:  time.Now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = c.post(body); lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	return fmt.Errorf("enqueue dispute: %w", lastErr)
}

func (c *Client) post(body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.webhookURL)
	req.Header.SetContentType("application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.SetBody(body)

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("review webhook status %d", code)
	}
	return nil
}
