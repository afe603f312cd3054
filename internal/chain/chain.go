// Package chain runs the quiz loop: fetch a page, extract its attachments,
// compose an answer, submit it, and follow any chained next URL, all under
// a hard session deadline and bounded retry budgets.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizzer/internal/config"
	"quizzer/internal/extract"
	"quizzer/internal/render"
	"quizzer/internal/solve"
	"quizzer/internal/submit"
)

// State names one orchestrator stage.
type State string

const (
	StateFetching   State = "fetching"
	StateExtracting State = "extracting"
	StateComposing  State = "composing"
	StateSubmitting State = "submitting"
	StateDeciding   State = "deciding"
	StateDone       State = "done"
)

// ResultKind classifies how a session ended.
type ResultKind string

const (
	ResultSolved           ResultKind = "solved"
	ResultFailed           ResultKind = "failed"
	ResultDeadlineExceeded ResultKind = "deadline-exceeded"
)

// ErrDeadlineExceeded is recorded when the session wall clock runs out.
var ErrDeadlineExceeded = errors.New("session deadline exceeded")

// Session identifies one end-to-end run. It is owned by the orchestrator
// for its lifetime and never persisted.
type Session struct {
	ID       string
	Email    string
	Secret   string
	StartURL string
	Start    time.Time
	Deadline time.Time
}

// NewSession stamps a session with its deadline, measured from now.
func NewSession(email, secret, startURL string, budget time.Duration) Session {
	now := time.Now()
	return Session{
		ID:       uuid.NewString(),
		Email:    email,
		Secret:   secret,
		StartURL: startURL,
		Start:    now,
		Deadline: now.Add(budget),
	}
}

// Result is the definite terminal state of a session.
type Result struct {
	Kind            ResultKind
	RoundsCompleted int
	LastErr         error
}

// round is one fetch-extract-compose-submit cycle.
type round struct {
	url         string
	page        *render.Page
	attachments []extract.Attachment
	apiBody     string
	submitURL   string
	attempts    int // judged answer submissions
}

// Renderer acquires pages.
type Renderer interface {
	Render(ctx context.Context, url string) (*render.Page, error)
}

// Extractor classifies attachments and fetches referenced API endpoints.
type Extractor interface {
	Extract(ctx context.Context, url string) (extract.Attachment, error)
	FetchAPI(ctx context.Context, url string) (string, error)
}

// Composer derives an answer from a question and its attachments.
type Composer interface {
	Compose(ctx context.Context, question string, atts []extract.Attachment, apiBody string) (*solve.Answer, error)
}

// Submitter posts answers and classifies the response.
type Submitter interface {
	Submit(ctx context.Context, submitURL string, id submit.Identity, quizURL string, answer *solve.Answer) submit.Outcome
}

// Orchestrator drives sessions through the quiz state machine. It holds no
// per-session state; concurrent sessions share it safely.
type Orchestrator struct {
	renderer  Renderer
	extractor Extractor
	composer  Composer
	submitter Submitter
	cfg       config.QuizConfig
	logger    *zap.Logger
	now       func() time.Time
}

// New builds an Orchestrator over its four capabilities.
func New(r Renderer, e Extractor, c Composer, s Submitter, cfg config.QuizConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		renderer:  r,
		extractor: e,
		composer:  c,
		submitter: s,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one session to its terminal result. It always returns a
// definite outcome; errors along the way are carried as data.
func (o *Orchestrator) Run(ctx context.Context, sess Session) Result {
	log := o.logger.With(zap.String("session", sess.ID), zap.String("email", sess.Email))
	log.Info("session started",
		zap.String("url", sess.StartURL), zap.Time("deadline", sess.Deadline))

	ctx, cancel := context.WithDeadline(ctx, sess.Deadline)
	defer cancel()

	id := submit.Identity{Email: sess.Email, Secret: sess.Secret}

	state := StateFetching
	cur := &round{url: sess.StartURL}
	rounds := 0
	fetchFailures := 0
	transportFailures := 0
	var answer *solve.Answer
	var outcome submit.Outcome
	var lastErr error
	result := Result{Kind: ResultFailed}

	for state != StateDone {
		// Deadline check precedes every transition. Once it trips, no
		// further network call is issued for this session.
		if !o.now().Before(sess.Deadline) {
			log.Warn("session deadline exceeded",
				zap.String("state", string(state)), zap.Int("rounds", rounds))
			return Result{Kind: ResultDeadlineExceeded, RoundsCompleted: rounds, LastErr: ErrDeadlineExceeded}
		}

		switch state {
		case StateFetching:
			page, err := o.renderer.Render(ctx, cur.url)
			if err != nil {
				fetchFailures++
				lastErr = fmt.Errorf("fetch %s: %w", cur.url, err)
				log.Warn("page fetch failed",
					zap.String("url", cur.url), zap.Int("failures", fetchFailures), zap.Error(err))
				if fetchFailures > o.cfg.FetchRetries {
					result = Result{Kind: ResultFailed, RoundsCompleted: rounds, LastErr: lastErr}
					state = StateDone
				}
				continue
			}
			cur.page = page
			state = StateExtracting

		case StateExtracting:
			o.extractRound(ctx, sess, cur, log)
			state = StateComposing

		case StateComposing:
			var err error
			cur.submitURL, err = solve.SubmitURL(cur.page.Text, cur.page.URL)
			if err != nil {
				result = Result{Kind: ResultFailed, RoundsCompleted: rounds, LastErr: err}
				state = StateDone
				continue
			}

			answer, err = o.composeWithRetry(ctx, sess, cur, log)
			if err != nil {
				if errors.Is(err, ErrDeadlineExceeded) {
					// The deadline tripped mid-composition; this is not a
					// failed attempt.
					log.Warn("session deadline exceeded",
						zap.String("state", string(state)), zap.Int("rounds", rounds))
					return Result{Kind: ResultDeadlineExceeded, RoundsCompleted: rounds, LastErr: ErrDeadlineExceeded}
				}
				// An exhausted composition burns an answer attempt.
				cur.attempts++
				lastErr = err
				if cur.attempts >= o.cfg.MaxAttempts {
					result = Result{Kind: ResultFailed, RoundsCompleted: rounds, LastErr: lastErr}
					state = StateDone
				}
				continue
			}
			state = StateSubmitting

		case StateSubmitting:
			outcome = o.submitter.Submit(ctx, cur.submitURL, id, cur.url, answer)
			if outcome.Kind != submit.OutcomeTransportError {
				cur.attempts++
			}
			state = StateDeciding

		case StateDeciding:
			switch outcome.Kind {
			case submit.OutcomeAcceptedTerminal:
				rounds++
				result = Result{Kind: ResultSolved, RoundsCompleted: rounds}
				state = StateDone

			case submit.OutcomeAcceptedNext:
				rounds++
				log.Info("round solved", zap.String("url", cur.url), zap.String("next", outcome.NextURL))
				cur = &round{url: outcome.NextURL}
				fetchFailures = 0
				transportFailures = 0
				state = StateFetching

			case submit.OutcomeRejected:
				lastErr = fmt.Errorf("answer rejected: %s", outcome.Reason)
				if cur.attempts < o.cfg.MaxAttempts {
					log.Info("answer rejected, retrying",
						zap.Int("attempt", cur.attempts), zap.String("reason", outcome.Reason))
					state = StateComposing
					continue
				}
				if outcome.NextURL != "" {
					// Attempts exhausted but the chain continues: skip ahead.
					rounds++
					log.Info("round skipped", zap.String("url", cur.url), zap.String("next", outcome.NextURL))
					cur = &round{url: outcome.NextURL}
					fetchFailures = 0
					transportFailures = 0
					state = StateFetching
					continue
				}
				result = Result{Kind: ResultFailed, RoundsCompleted: rounds, LastErr: lastErr}
				state = StateDone

			case submit.OutcomeTransportError:
				lastErr = outcome.Err
				if errors.Is(outcome.Err, submit.ErrPayloadTooLarge) {
					result = Result{Kind: ResultFailed, RoundsCompleted: rounds, LastErr: lastErr}
					state = StateDone
					continue
				}
				transportFailures++
				log.Warn("submission transport error",
					zap.Int("failures", transportFailures), zap.Error(outcome.Err))
				if transportFailures > o.cfg.TransportRetries {
					result = Result{Kind: ResultFailed, RoundsCompleted: rounds, LastErr: lastErr}
					state = StateDone
					continue
				}
				state = StateSubmitting
			}
		}
	}

	log.Info("session finished",
		zap.String("outcome", string(result.Kind)),
		zap.Int("rounds", result.RoundsCompleted))
	return result
}

// extractRound gathers attachments and API data for the current round.
// Extraction failures degrade: they are recorded and the round continues.
func (o *Orchestrator) extractRound(ctx context.Context, sess Session, cur *round, log *zap.Logger) {
	candidates := extract.CandidateURLs(cur.page.Text, cur.page.Links, o.cfg.MaxAttachments)
	for _, u := range candidates {
		if !o.now().Before(sess.Deadline) {
			return
		}
		att, err := o.extractor.Extract(ctx, u)
		if err != nil {
			log.Warn("attachment skipped", zap.String("url", u), zap.Error(err))
			continue
		}
		cur.attachments = append(cur.attachments, att)
	}

	if api := extract.APIEndpoint(cur.page.Text); api != "" && o.now().Before(sess.Deadline) {
		body, err := o.extractor.FetchAPI(ctx, api)
		if err != nil {
			log.Warn("api fetch failed", zap.String("url", api), zap.Error(err))
		} else {
			cur.apiBody = body
		}
	}
}

// composeWithRetry retries malformed model output up to the compose bound.
func (o *Orchestrator) composeWithRetry(ctx context.Context, sess Session, cur *round, log *zap.Logger) (*solve.Answer, error) {
	var lastErr error
	for i := 0; i <= o.cfg.ComposeRetries; i++ {
		if !o.now().Before(sess.Deadline) {
			return nil, ErrDeadlineExceeded
		}
		answer, err := o.composer.Compose(ctx, cur.page.Text, cur.attachments, cur.apiBody)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		log.Warn("composition failed", zap.Int("try", i+1), zap.Error(err))
	}
	return nil, fmt.Errorf("composition exhausted: %w", lastErr)
}
