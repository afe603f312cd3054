// Package submit serializes and posts quiz answers and classifies the
// remote response into an Outcome for the orchestrator.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quizzer/internal/solve"
)

// OutcomeKind classifies one submission attempt.
type OutcomeKind string

const (
	// OutcomeAcceptedTerminal: answer accepted, chain ends.
	OutcomeAcceptedTerminal OutcomeKind = "accepted-terminal"
	// OutcomeAcceptedNext: answer accepted, a next URL follows.
	OutcomeAcceptedNext OutcomeKind = "accepted-with-next-url"
	// OutcomeRejected: answer wrong; NextURL may still be offered.
	OutcomeRejected OutcomeKind = "rejected-retryable"
	// OutcomeTransportError: network, timeout, oversized payload, or an
	// unparseable response. The error rides along as data.
	OutcomeTransportError OutcomeKind = "transport-error"
)

// ErrPayloadTooLarge marks a serialized submission over the byte ceiling.
// Hard failure: no network call is made and the attempt is not retried.
var ErrPayloadTooLarge = errors.New("submission payload exceeds ceiling")

// Outcome is the classified result of one submission attempt.
type Outcome struct {
	Kind    OutcomeKind
	NextURL string
	Reason  string
	Raw     json.RawMessage
	Err     error
}

// Identity carries the session credentials echoed in every submission.
type Identity struct {
	Email  string
	Secret string
}

// payload is the wire shape the quiz server expects.
type payload struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
	Answer any    `json:"answer"`
}

// submitResponse is the wire shape the quiz server returns.
type submitResponse struct {
	Correct bool   `json:"correct"`
	URL     string `json:"url"`
	Reason  string `json:"reason"`
}

// Submitter posts answers with a bounded timeout and payload ceiling.
type Submitter struct {
	client  *http.Client
	ceiling int
	timeout time.Duration
	logger  *zap.Logger
}

// NewSubmitter builds a Submitter. ceiling caps the serialized payload.
func NewSubmitter(client *http.Client, ceiling int, timeout time.Duration, logger *zap.Logger) *Submitter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Submitter{
		client:  client,
		ceiling: ceiling,
		timeout: timeout,
		logger:  logger,
	}
}

// Submit serializes the answer and posts it. Failures are returned as
// Outcome data, never raised.
func (s *Submitter) Submit(ctx context.Context, submitURL string, id Identity, quizURL string, answer *solve.Answer) Outcome {
	body, err := json.Marshal(payload{
		Email:  id.Email,
		Secret: id.Secret,
		URL:    quizURL,
		Answer: answer.Value,
	})
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	if len(body) > s.ceiling {
		s.logger.Error("submission payload too large",
			zap.Int("bytes", len(body)), zap.Int("ceiling", s.ceiling), zap.String("url", quizURL))
		return Outcome{Kind: OutcomeTransportError, Err: fmt.Errorf("%d bytes: %w", len(body), ErrPayloadTooLarge)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, Err: fmt.Errorf("post %s: %w", submitURL, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, Err: fmt.Errorf("read response: %w", err)}
	}

	var parsed submitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Outcome{
			Kind: OutcomeTransportError,
			Raw:  raw,
			Err:  fmt.Errorf("unparseable response (HTTP %d): %w", resp.StatusCode, err),
		}
	}

	outcome := Outcome{NextURL: parsed.URL, Reason: parsed.Reason, Raw: raw}
	switch {
	case parsed.Correct && parsed.URL != "":
		outcome.Kind = OutcomeAcceptedNext
	case parsed.Correct:
		outcome.Kind = OutcomeAcceptedTerminal
	default:
		outcome.Kind = OutcomeRejected
	}
	return outcome
}
