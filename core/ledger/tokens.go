package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	loupeerrors "github.com/adalundhe/loupe/core/errors"
)

// =============================================================================
// Token state machine: Issued -> (Consumed | Expired)
// =============================================================================

// TokenState is a feedback token's lifecycle state.
type TokenState string

const (
	// StateIssued means the token is live and can accept one submission.
	StateIssued TokenState = "issued"

	// StateConsumed means feedback was already applied against the token.
	StateConsumed TokenState = "consumed"

	// StateExpired means the token aged past its TTL unconsumed.
	StateExpired TokenState = "expired"
)

// String returns the string representation of the state.
func (s TokenState) String() string {
	return string(s)
}

// CandidateRef ties a returned candidate to the per-signal contribution
// shares it was scored with, so later feedback can judge whether a signal was
// systematically over- or under-weighted.
type CandidateRef struct {
	EntityID string             `json:"entity_id"`
	Combined float64            `json:"combined"`
	Shares   map[string]float64 `json:"shares,omitempty"`
}

// TokenRecord is one issued feedback token with the candidate set it covers.
type TokenRecord struct {
	Token      string         `json:"token"`
	Candidates []CandidateRef `json:"candidates"`
	IssuedAt   time.Time      `json:"issued_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	ConsumedAt *time.Time     `json:"consumed_at,omitempty"`
}

// State derives the token's lifecycle state at the given time.
func (r *TokenRecord) State(now time.Time) TokenState {
	if r.ConsumedAt != nil {
		return StateConsumed
	}
	if now.After(r.ExpiresAt) {
		return StateExpired
	}
	return StateIssued
}

// Candidate returns the ref for the entity, or nil when the token does not
// cover it.
func (r *TokenRecord) Candidate(entityID string) *CandidateRef {
	for i := range r.Candidates {
		if r.Candidates[i].EntityID == entityID {
			return &r.Candidates[i]
		}
	}
	return nil
}

// =============================================================================
// Token operations
// =============================================================================

// IssueToken creates a new token covering the candidate set, valid for ttl.
// Returns the generated token string.
func (l *Ledger) IssueToken(ctx context.Context, candidates []CandidateRef, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}
	token := uuid.NewString()
	now := time.Now().UTC()

	encoded, err := json.Marshal(candidates)
	if err != nil {
		return "", fmt.Errorf("encode token candidates: %w", err)
	}

	err = loupeerrors.Retry(ctx, func() error {
		_, execErr := l.db.ExecContext(ctx, `
			INSERT INTO tokens (token, candidates, issued_at, expires_at)
			VALUES (?, ?, ?, ?)`,
			token, string(encoded),
			now.Format(time.RFC3339Nano),
			now.Add(ttl).Format(time.RFC3339Nano))
		return loupeerrors.ClassifyStorage(execErr)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Token looks up a token and derives its state. A missing token reports
// ErrTokenExpired: expired tokens may be pruned, so absence and expiry are
// indistinguishable to callers and both must be surfaced, never no-opped.
func (l *Ledger) Token(ctx context.Context, token string) (*TokenRecord, TokenState, error) {
	record, err := l.readToken(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if record == nil {
		return nil, StateExpired, loupeerrors.ErrTokenExpired
	}
	return record, record.State(time.Now().UTC()), nil
}

// ConsumeToken transitions a token Issued -> Consumed exactly once. The
// transition is a conditional update, so two racing submissions cannot both
// succeed; the loser is told the token was already consumed.
func (l *Ledger) ConsumeToken(ctx context.Context, token string) (*TokenRecord, error) {
	now := time.Now().UTC()

	result, err := l.db.ExecContext(ctx, `
		UPDATE tokens SET consumed_at = ?
		WHERE token = ? AND consumed_at IS NULL AND expires_at > ?`,
		now.Format(time.RFC3339Nano), token, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, loupeerrors.ClassifyStorage(fmt.Errorf("consume token: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("consume token result: %w", err)
	}
	if affected == 1 {
		record, err := l.readToken(ctx, token)
		if err != nil {
			return nil, err
		}
		return record, nil
	}

	// The conditional update matched nothing: distinguish consumed from
	// expired/missing for the caller's rejection reason.
	record, err := l.readToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, loupeerrors.ErrTokenExpired
	}
	if record.ConsumedAt != nil {
		return nil, loupeerrors.ErrTokenAlreadyConsumed
	}
	return nil, loupeerrors.ErrTokenExpired
}

// PruneExpiredTokens deletes tokens past their TTL, returning how many were
// removed. Consumed tokens are kept: they are part of the idempotency record.
func (l *Ledger) PruneExpiredTokens(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE consumed_at IS NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, loupeerrors.ClassifyStorage(fmt.Errorf("prune tokens: %w", err))
	}
	return result.RowsAffected()
}

func (l *Ledger) readToken(ctx context.Context, token string) (*TokenRecord, error) {
	var (
		record     TokenRecord
		candidates string
		issuedAt   string
		expiresAt  string
		consumedAt sql.NullString
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT token, candidates, issued_at, expires_at, consumed_at
		FROM tokens WHERE token = ?`, token).
		Scan(&record.Token, &candidates, &issuedAt, &expiresAt, &consumedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, loupeerrors.ClassifyStorage(fmt.Errorf("read token: %w", err))
	}

	if err := json.Unmarshal([]byte(candidates), &record.Candidates); err != nil {
		return nil, fmt.Errorf("decode token candidates: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, issuedAt); err == nil {
		record.IssuedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, expiresAt); err == nil {
		record.ExpiresAt = t
	}
	if consumedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, consumedAt.String); err == nil {
			record.ConsumedAt = &t
		}
	}
	return &record, nil
}
