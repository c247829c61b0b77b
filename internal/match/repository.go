package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fkhayef/travelmate/internal/database"
)

var errOrderAlreadyMatched = errors.New("partner order already has a match")

// Repository handles match persistence
type Repository struct {
	db *database.DB
	q  database.Querier
}

// NewRepository creates a new match repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, q: db}
}

// Create inserts the form, the match and its tags in one transaction.
// It returns errOrderAlreadyMatched when partnerOrderID is taken.
func (r *Repository) Create(ctx context.Context, m *Match, form *GuideRequestForm) (*Match, error) {
	created := *m
	createdForm := *form

	err := r.db.Transact(ctx, func(tx *database.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO guide_request_forms (title, message, start_date, end_date, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, form.Title, form.Message, form.StartDate, form.EndDate, database.Millis(form.CreatedAt),
		).Scan(&createdForm.ID)
		if err != nil {
			return fmt.Errorf("failed to create guide request form: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO matches (requester_id, guide_id, region_id, status, guide_request_form_id, partner_order_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING id
		`,
			m.RequesterID,
			m.GuideID,
			m.RegionID,
			StatusPending,
			createdForm.ID,
			m.PartnerOrderID,
			database.Millis(m.CreatedAt),
		).Scan(&created.ID)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return errOrderAlreadyMatched
			}
			return fmt.Errorf("failed to create match: %w", err)
		}

		for i, tagID := range m.TagIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO match_tags (match_id, tag_id, position) VALUES ($1, $2, $3)`,
				created.ID, tagID, i,
			); err != nil {
				return fmt.Errorf("failed to create match tag: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created.Status = StatusPending
	created.GuideRequestFormID = createdForm.ID
	created.CreatedAt = database.FromMillis(database.Millis(m.CreatedAt))
	created.UpdatedAt = created.CreatedAt
	createdForm.CreatedAt = database.FromMillis(database.Millis(form.CreatedAt))
	created.Form = &createdForm
	return &created, nil
}

const selectMatch = `
	SELECT m.id, m.requester_id, m.guide_id, m.region_id, m.status, m.guide_request_form_id, m.partner_order_id,
	       m.created_at, m.updated_at,
	       f.id, f.title, f.message, f.start_date, f.end_date, f.created_at
	FROM matches m
	JOIN guide_request_forms f ON f.id = m.guide_request_form_id
`

func (r *Repository) getOne(ctx context.Context, where string, arg any) (*Match, error) {
	m := &Match{Form: &GuideRequestForm{}}
	var createdAt, updatedAt, formCreatedAt int64
	err := r.q.QueryRowContext(ctx, selectMatch+where, arg).Scan(
		&m.ID,
		&m.RequesterID,
		&m.GuideID,
		&m.RegionID,
		&m.Status,
		&m.GuideRequestFormID,
		&m.PartnerOrderID,
		&createdAt,
		&updatedAt,
		&m.Form.ID,
		&m.Form.Title,
		&m.Form.Message,
		&m.Form.StartDate,
		&m.Form.EndDate,
		&formCreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	m.CreatedAt = database.FromMillis(createdAt)
	m.UpdatedAt = database.FromMillis(updatedAt)
	m.Form.CreatedAt = database.FromMillis(formCreatedAt)

	tags, err := r.getTags(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	m.TagIDs = tags
	return m, nil
}

// GetByID retrieves a match with its form and tags
func (r *Repository) GetByID(ctx context.Context, id int64) (*Match, error) {
	return r.getOne(ctx, `WHERE m.id = $1`, id)
}

// GetByPartnerOrderID retrieves the match created for a payment order
func (r *Repository) GetByPartnerOrderID(ctx context.Context, orderID string) (*Match, error) {
	return r.getOne(ctx, `WHERE m.partner_order_id = $1`, orderID)
}

func (r *Repository) getTags(ctx context.Context, matchID int64) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT tag_id FROM match_tags WHERE match_id = $1 ORDER BY position`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match tags: %w", err)
	}
	defer rows.Close()

	tags := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan match tag: %w", err)
		}
		tags = append(tags, id)
	}
	return tags, rows.Err()
}

// Confirm moves a PENDING, unclaimed match to CONFIRMED. It reports false
// when the match changed underneath the caller.
func (r *Repository) Confirm(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE matches SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND pending_transition IS NULL
	`, StatusConfirmed, database.Millis(now), id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to confirm match: %w", err)
	}
	return affectedOne(result)
}

// Claim reserves a PENDING match for a refund-bearing transition to target.
// A claim older than staleBefore is abandoned and may be taken over.
// The returned token must be passed to CompleteTransition or ReleaseClaim.
func (r *Repository) Claim(ctx context.Context, id int64, target Status, now, staleBefore time.Time) (int64, bool, error) {
	token := database.Millis(now)
	result, err := r.q.ExecContext(ctx, `
		UPDATE matches SET pending_transition = $1, transition_at = $2
		WHERE id = $3 AND status = $4
		  AND (pending_transition IS NULL OR transition_at < $5)
	`, target, token, id, StatusPending, database.Millis(staleBefore))
	if err != nil {
		return 0, false, fmt.Errorf("failed to claim match: %w", err)
	}
	ok, err := affectedOne(result)
	return token, ok, err
}

// CompleteTransition commits a claimed transition. It reports false when the
// claim was lost.
func (r *Repository) CompleteTransition(ctx context.Context, id int64, target Status, token int64, now time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE matches SET status = $1, pending_transition = NULL, transition_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4 AND pending_transition = $1 AND transition_at = $5
	`, target, database.Millis(now), id, StatusPending, token)
	if err != nil {
		return false, fmt.Errorf("failed to complete match transition: %w", err)
	}
	return affectedOne(result)
}

// ReleaseClaim drops a claim without changing status
func (r *Repository) ReleaseClaim(ctx context.Context, id int64, token int64) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE matches SET pending_transition = NULL, transition_at = NULL
		WHERE id = $1 AND transition_at = $2
	`, id, token)
	if err != nil {
		return fmt.Errorf("failed to release match claim: %w", err)
	}
	return nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
