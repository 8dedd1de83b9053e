// Package feedback closes the loop between query results and the confidence
// model. A consumed feedback token applies one bounded Bayesian update per
// rated candidate, appends audit entries to the ledger, feeds the rolling
// signal window, and nudges the learned weights when the window shows a
// signal systematically mis-weighted. Consumption is idempotent: the token
// state machine, not this package, guarantees a submission applies once.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adalundhe/loupe/core/confidence"
	loupeerrors "github.com/adalundhe/loupe/core/errors"
	"github.com/adalundhe/loupe/core/ledger"
	"github.com/adalundhe/loupe/core/weights"
)

// Rejection reasons surfaced to callers. Stable machine-readable strings.
const (
	ReasonTokenAlreadyConsumed = "token_already_consumed"
	ReasonTokenExpired         = "token_expired"
)

// Rating is one user judgment on a returned candidate.
type Rating struct {
	// EntityID names the rated candidate.
	EntityID string `json:"entity_id"`

	// Relevant reports whether the result helped.
	Relevant bool `json:"relevant"`

	// Usefulness in [0,1] scales the positive update; ignored for negative
	// ratings, which apply at full strength.
	Usefulness float64 `json:"usefulness,omitempty"`
}

// Submission is one feedback payload against an issued token.
type Submission struct {
	// Token is the feedback token returned with the query result.
	Token string `json:"token"`

	// Ratings judge candidates the token covers; ratings for entities the
	// token does not cover are skipped, not errors.
	Ratings []Rating `json:"ratings"`

	// ExpectedButMissing lists entities the user expected in the results but
	// did not receive. Recorded for corpus-gap reporting; confidence is not
	// touched.
	ExpectedButMissing []string `json:"expected_but_missing,omitempty"`
}

// Receipt reports what a submission did.
type Receipt struct {
	// Accepted is false when the token was already consumed or expired.
	Accepted bool `json:"accepted"`

	// Reason explains a rejection; empty when accepted.
	Reason string `json:"reason,omitempty"`

	// Applied counts the ratings that produced a confidence update.
	Applied int `json:"applied"`

	// Skipped lists rated entity ids the token did not cover.
	Skipped []string `json:"skipped,omitempty"`

	// MissingRecorded counts the expected-but-missing entries appended.
	MissingRecorded int `json:"missing_recorded,omitempty"`

	// NudgedSignals lists signals whose learned weight moved this
	// submission.
	NudgedSignals []string `json:"nudged_signals,omitempty"`
}

// Learner applies feedback submissions. One Learner serves the engine; the
// weights layer's single-writer discipline is preserved because all weight
// mutations funnel through Apply.
type Learner struct {
	ledger  *ledger.Ledger
	weights *weights.LearnedWeights
	window  *Window
	policy  confidence.UpdatePolicy
	logger  *slog.Logger
}

// New creates a Learner. A nil window gets the default tuning; a nil logger
// uses the process default.
func New(lg *ledger.Ledger, lw *weights.LearnedWeights, window *Window, logger *slog.Logger) *Learner {
	return NewWithPolicy(lg, lw, window, confidence.DefaultUpdatePolicy(), logger)
}

// NewWithPolicy creates a Learner with explicit update-policy constants. An
// invalid policy falls back to the default.
func NewWithPolicy(lg *ledger.Ledger, lw *weights.LearnedWeights, window *Window, policy confidence.UpdatePolicy, logger *slog.Logger) *Learner {
	if window == nil {
		window = NewWindow()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if !policy.Validate() {
		policy = confidence.DefaultUpdatePolicy()
	}
	return &Learner{
		ledger:  lg,
		weights: lw,
		window:  window,
		policy:  policy,
		logger:  logger,
	}
}

// Apply consumes the submission's token and applies every covered rating.
// Already-consumed and expired tokens come back as unaccepted receipts, not
// errors; only validation and storage failures error.
func (l *Learner) Apply(ctx context.Context, sub Submission) (*Receipt, error) {
	if sub.Token == "" {
		return nil, loupeerrors.New(loupeerrors.ClassInvalidArgument, "feedback token is required")
	}
	for _, r := range sub.Ratings {
		if r.Usefulness < 0 || r.Usefulness > 1 {
			return nil, loupeerrors.New(loupeerrors.ClassInvalidArgument,
				fmt.Sprintf("usefulness %v for %s outside [0,1]", r.Usefulness, r.EntityID))
		}
	}

	record, err := l.ledger.ConsumeToken(ctx, sub.Token)
	switch {
	case errors.Is(err, loupeerrors.ErrTokenAlreadyConsumed):
		return &Receipt{Accepted: false, Reason: ReasonTokenAlreadyConsumed}, nil
	case errors.Is(err, loupeerrors.ErrTokenExpired):
		return &Receipt{Accepted: false, Reason: ReasonTokenExpired}, nil
	case err != nil:
		return nil, err
	}

	receipt := &Receipt{Accepted: true}
	for _, rating := range sub.Ratings {
		ref := record.Candidate(rating.EntityID)
		if ref == nil {
			receipt.Skipped = append(receipt.Skipped, rating.EntityID)
			continue
		}
		if err := l.applyRating(ctx, sub.Token, ref, rating); err != nil {
			return nil, err
		}
		l.window.Observe(ref.Shares, rating.Relevant)
		receipt.Applied++
	}

	for _, entityID := range sub.ExpectedButMissing {
		if entityID == "" {
			continue
		}
		if err := l.recordMissing(ctx, sub.Token, entityID); err != nil {
			return nil, err
		}
		receipt.MissingRecorded++
	}

	if receipt.Applied > 0 {
		l.weights.RecordFeedback(receipt.Applied)
		receipt.NudgedSignals = l.maybeNudge(ctx)
	}

	l.logger.Info("feedback applied",
		"token", sub.Token,
		"applied", receipt.Applied,
		"skipped", len(receipt.Skipped),
		"missing", receipt.MissingRecorded,
		"nudged", receipt.NudgedSignals)
	return receipt, nil
}

// applyRating moves one entity's stored confidence by the policy step and
// appends the audit entry. The prior is the ledger's stored confidence when
// one exists, otherwise the fused confidence the candidate was served with.
func (l *Learner) applyRating(ctx context.Context, token string, ref *ledger.CandidateRef, rating Rating) error {
	prior, ok, err := l.ledger.EntityConfidence(ctx, ref.EntityID)
	if err != nil {
		return err
	}
	if !ok {
		prior = ref.Combined
	}

	kind := confidence.EventNegative
	eventType := ledger.EventFeedbackNegative
	if rating.Relevant {
		kind = confidence.EventPositive
		eventType = ledger.EventFeedbackPositive
	}
	posterior := confidence.BayesianUpdateWithPolicy(prior, confidence.Event{
		Kind:     kind,
		Strength: rating.Usefulness,
	}, l.policy)

	_, err = l.ledger.Append(ctx, ledger.Entry{
		EntityID:       ref.EntityID,
		EventType:      eventType,
		Delta:          posterior - prior,
		Evidence:       "token " + token,
		ResultingValue: posterior,
	})
	return err
}

// recordMissing appends a missing_expected entry. ResultingValue carries the
// entity's current stored confidence unchanged, zero when none exists.
func (l *Learner) recordMissing(ctx context.Context, token, entityID string) error {
	current, _, err := l.ledger.EntityConfidence(ctx, entityID)
	if err != nil {
		return err
	}
	_, err = l.ledger.Append(ctx, ledger.Entry{
		EntityID:       entityID,
		EventType:      ledger.EventMissingExpected,
		Evidence:       "token " + token,
		ResultingValue: current,
	})
	return err
}

// maybeNudge applies any window-supported weight deltas and flushes the
// published snapshot. Nudge failures degrade to a log line: feedback was
// already recorded, losing a nudge loses tuning, not data.
func (l *Learner) maybeNudge(ctx context.Context) []string {
	nudges := l.window.ProposeNudges()
	if len(nudges) == 0 {
		return nil
	}

	snap, err := l.weights.ApplyNudges(nudges)
	if err != nil {
		l.logger.Warn("weight nudge rejected", "error", err)
		return nil
	}
	if err := l.weights.Flush(ctx); err != nil {
		l.logger.Warn("weight flush failed", "error", err)
	}

	names := make([]string, 0, len(nudges))
	for name := range nudges {
		names = append(names, name)
	}
	l.logger.Info("learned weights nudged", "signals", names, "version", snap.Version)
	return names
}

// PruneTokens removes expired unconsumed tokens; consumed tokens stay for
// audit. Intended for the engine's background maintenance tick.
func (l *Learner) PruneTokens(ctx context.Context) (int64, error) {
	return l.ledger.PruneExpiredTokens(ctx)
}

// IssueToken creates a feedback token covering the candidate refs, valid for
// ttl. Thin passthrough so the engine depends on the learner alone for the
// feedback surface.
func (l *Learner) IssueToken(ctx context.Context, refs []ledger.CandidateRef, ttl time.Duration) (string, error) {
	return l.ledger.IssueToken(ctx, refs, ttl)
}
