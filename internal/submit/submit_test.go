package submit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"quizzer/internal/solve"
)

var testID = Identity{Email: "student@example.com", Secret: "s3cret"}

func newTestSubmitter(ceiling int) *Submitter {
	return NewSubmitter(http.DefaultClient, ceiling, 5*time.Second, zap.NewNop())
}

// countingTransport fails the test if any request goes out.
type countingTransport struct {
	calls atomic.Int64
}

func (t *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	t.calls.Add(1)
	return nil, errors.New("network call not expected")
}

func TestOversizedPayloadMakesNoNetworkCall(t *testing.T) {
	transport := &countingTransport{}
	s := NewSubmitter(&http.Client{Transport: transport}, 1000, time.Second, zap.NewNop())

	answer := &solve.Answer{Type: solve.TypeString, Value: strings.Repeat("x", 2000)}
	outcome := s.Submit(context.Background(), "http://unused.example.com", testID, "http://q", answer)

	if outcome.Kind != OutcomeTransportError {
		t.Errorf("kind = %s, want transport-error", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", outcome.Err)
	}
	if transport.calls.Load() != 0 {
		t.Errorf("expected no network call, saw %d", transport.calls.Load())
	}
}

func TestOutcomeMapping(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     OutcomeKind
		nextURL  string
	}{
		{"correct terminal", `{"correct": true}`, OutcomeAcceptedTerminal, ""},
		{"correct with next", `{"correct": true, "url": "https://q/2"}`, OutcomeAcceptedNext, "https://q/2"},
		{"incorrect", `{"correct": false, "reason": "wrong"}`, OutcomeRejected, ""},
		{"incorrect with next offered", `{"correct": false, "url": "https://q/2"}`, OutcomeRejected, "https://q/2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("content type = %s", ct)
				}
				_, _ = w.Write([]byte(tc.response))
			}))
			defer srv.Close()

			s := newTestSubmitter(1 << 20)
			answer := &solve.Answer{Type: solve.TypeNumber, Value: 42}
			outcome := s.Submit(context.Background(), srv.URL, testID, "http://q", answer)

			if outcome.Kind != tc.want {
				t.Errorf("kind = %s, want %s", outcome.Kind, tc.want)
			}
			if outcome.NextURL != tc.nextURL {
				t.Errorf("next url = %q, want %q", outcome.NextURL, tc.nextURL)
			}
		})
	}
}

func TestUnparseableResponseIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	s := newTestSubmitter(1 << 20)
	outcome := s.Submit(context.Background(), srv.URL, testID, "http://q", &solve.Answer{Type: solve.TypeNumber, Value: 1})

	if outcome.Kind != OutcomeTransportError {
		t.Errorf("kind = %s, want transport-error", outcome.Kind)
	}
	if outcome.Err == nil {
		t.Error("expected the raw error as data")
	}
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	s := newTestSubmitter(1 << 20)
	outcome := s.Submit(context.Background(), "http://127.0.0.1:1", testID, "http://q", &solve.Answer{Type: solve.TypeNumber, Value: 1})
	if outcome.Kind != OutcomeTransportError || outcome.Err == nil {
		t.Errorf("expected transport-error with error data, got %s %v", outcome.Kind, outcome.Err)
	}
}

func TestPayloadShape(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		_, _ = w.Write([]byte(`{"correct": true}`))
	}))
	defer srv.Close()

	s := newTestSubmitter(1 << 20)
	s.Submit(context.Background(), srv.URL, testID, "http://quiz/1", &solve.Answer{Type: solve.TypeBool, Value: true})

	for _, want := range []string{`"email":"student@example.com"`, `"secret":"s3cret"`, `"url":"http://quiz/1"`, `"answer":true`} {
		if !strings.Contains(got, want) {
			t.Errorf("payload missing %s: %s", want, got)
		}
	}
}
