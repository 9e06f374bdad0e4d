package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRepository handles mining-session archive operations
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// UpsertOpened records a newly opened session. Replaying an already stored
// session id is a no-op so the archiver can reprocess the stream safely.
func (r *SessionRepository) UpsertOpened(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO mining_sessions (session_id, owner, amount, tier_id, duration_seconds, multiplier_bp,
		                             start_time, end_time, is_active, is_claimed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, FALSE, $9)
		ON CONFLICT (session_id) DO NOTHING`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		session.SessionID, session.Owner, session.Amount, session.TierID,
		session.DurationSeconds, session.MultiplierBP,
		session.StartTime, session.EndTime, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	session.Active = true
	session.UpdatedAt = now
	return nil
}

// MarkClaimed records a successful reward claim against a session.
func (r *SessionRepository) MarkClaimed(ctx context.Context, sessionID int64, reward string, claimedAt time.Time) error {
	query := `
		UPDATE mining_sessions
		SET is_active = FALSE, is_claimed = TRUE, reward = $1, claimed_at = $2, updated_at = $3
		WHERE session_id = $4`

	_, err := r.db.ExecContext(ctx, query, reward, claimedAt, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session claimed: %w", err)
	}

	return nil
}

// MarkClosed records an administrative close without payment.
func (r *SessionRepository) MarkClosed(ctx context.Context, sessionID int64, closedAt time.Time) error {
	query := `
		UPDATE mining_sessions
		SET is_active = FALSE, closed_at = $1, updated_at = $2
		WHERE session_id = $3`

	_, err := r.db.ExecContext(ctx, query, closedAt, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session closed: %w", err)
	}

	return nil
}

// GetByOwner retrieves an owner's sessions, newest first, with pagination.
func (r *SessionRepository) GetByOwner(ctx context.Context, owner string, limit, offset int) ([]*Session, error) {
	query := `
		SELECT session_id, owner, amount, tier_id, duration_seconds, multiplier_bp,
		       start_time, end_time, is_active, is_claimed, reward, claimed_at, closed_at, updated_at
		FROM mining_sessions
		WHERE owner = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var sessions []*Session
	for rows.Next() {
		session := &Session{}
		err := rows.Scan(
			&session.SessionID, &session.Owner, &session.Amount, &session.TierID,
			&session.DurationSeconds, &session.MultiplierBP,
			&session.StartTime, &session.EndTime, &session.Active, &session.Claimed,
			&session.Reward, &session.ClaimedAt, &session.ClosedAt, &session.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// GetSession retrieves one session by id.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID int64) (*Session, error) {
	query := `
		SELECT session_id, owner, amount, tier_id, duration_seconds, multiplier_bp,
		       start_time, end_time, is_active, is_claimed, reward, claimed_at, closed_at, updated_at
		FROM mining_sessions WHERE session_id = $1`

	session := &Session{}
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID, &session.Owner, &session.Amount, &session.TierID,
		&session.DurationSeconds, &session.MultiplierBP,
		&session.StartTime, &session.EndTime, &session.Active, &session.Claimed,
		&session.Reward, &session.ClaimedAt, &session.ClosedAt, &session.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// ProposalRepository handles proposal archive operations
type ProposalRepository struct {
	db *sql.DB
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(db *sql.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// UpsertCreated records a newly created proposal.
func (r *ProposalRepository) UpsertCreated(ctx context.Context, proposal *Proposal) error {
	query := `
		INSERT INTO proposals (proposal_id, proposer, new_difficulty, start_time, end_time,
		                       status, for_votes, against_votes, abstain_votes, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'active', '0', '0', '0', $6)
		ON CONFLICT (proposal_id) DO NOTHING`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		proposal.ProposalID, proposal.Proposer, proposal.NewDifficulty,
		proposal.StartTime, proposal.EndTime, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert proposal: %w", err)
	}

	proposal.Status = "active"
	proposal.UpdatedAt = now
	return nil
}

// RecordVote stores one ballot and refreshes the proposal row's updated_at.
func (r *ProposalRepository) RecordVote(ctx context.Context, vote *Vote) error {
	query := `
		INSERT INTO votes (proposal_id, voter, support, weight, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id, voter) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		vote.ProposalID, vote.Voter, vote.Support, vote.Weight, vote.CastAt,
	).Scan(&vote.ID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to record vote: %w", err)
	}

	return nil
}

// Finalize records a proposal's terminal outcome and final tallies.
func (r *ProposalRepository) Finalize(ctx context.Context, proposalID int64, status, forVotes, againstVotes, abstainVotes string) error {
	query := `
		UPDATE proposals
		SET status = $1, for_votes = $2, against_votes = $3, abstain_votes = $4, updated_at = $5
		WHERE proposal_id = $6`

	_, err := r.db.ExecContext(ctx, query, status, forVotes, againstVotes, abstainVotes, time.Now(), proposalID)
	if err != nil {
		return fmt.Errorf("failed to finalize proposal: %w", err)
	}

	return nil
}

// GetRecent retrieves recent proposals with pagination.
func (r *ProposalRepository) GetRecent(ctx context.Context, limit, offset int) ([]*Proposal, error) {
	query := `
		SELECT proposal_id, proposer, new_difficulty, start_time, end_time,
		       status, for_votes, against_votes, abstain_votes, updated_at
		FROM proposals
		ORDER BY start_time DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var proposals []*Proposal
	for rows.Next() {
		proposal := &Proposal{}
		err := rows.Scan(
			&proposal.ProposalID, &proposal.Proposer, &proposal.NewDifficulty,
			&proposal.StartTime, &proposal.EndTime, &proposal.Status,
			&proposal.ForVotes, &proposal.AgainstVotes, &proposal.AbstainVotes,
			&proposal.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, proposal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposals: %w", err)
	}

	return proposals, nil
}

// EventRepository handles the raw event archive
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append stores one raw engine event.
func (r *EventRepository) Append(ctx context.Context, event *EngineEvent) error {
	query := `
		INSERT INTO engine_events (kind, entity_id, actor, occurred_at, fields)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		event.Kind, event.EntityID, event.Actor, event.OccurredAt, event.Fields,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetRecentByKind retrieves recent events of one kind, newest first.
func (r *EventRepository) GetRecentByKind(ctx context.Context, kind string, limit, offset int) ([]*EngineEvent, error) {
	query := `
		SELECT id, kind, entity_id, actor, occurred_at, fields
		FROM engine_events
		WHERE kind = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []*EngineEvent
	for rows.Next() {
		event := &EngineEvent{}
		err := rows.Scan(
			&event.ID, &event.Kind, &event.EntityID, &event.Actor,
			&event.OccurredAt, &event.Fields,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
