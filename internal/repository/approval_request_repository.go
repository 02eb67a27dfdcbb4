package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-workflow-engine/internal/database"
	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// ApprovalRequestRepository persists approval requests and their trails.
// A request and its steps are always written together in one transaction.
type ApprovalRequestRepository struct {
	db *database.DB
}

// NewApprovalRequestRepository creates a new ApprovalRequestRepository.
func NewApprovalRequestRepository(db *database.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

// Create inserts a request at version 1 together with its steps.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *workflow.ApprovalRequest) error {
	itemsJSON, err := json.Marshal(req.Items)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal expense items")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO approval_requests
			    (id, category, magnitude, purpose,
			     submitted_by, submitted_at, items, status, version)
			VALUES ($1, $2, $3, $4,
			        $5, $6, $7, $8, 1)
		`
		_, err := tx.Exec(ctx, query,
			req.ID,
			req.Category,
			req.Magnitude,
			req.Purpose,
			req.SubmittedBy,
			req.SubmittedAt,
			itemsJSON,
			string(req.Status()),
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
		}

		stepQuery := `
			INSERT INTO approval_steps
			    (request_id, level, approver_role, status,
			     decided_by, decided_at, comment)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		for _, step := range req.Steps {
			_, err := tx.Exec(ctx, stepQuery,
				req.ID,
				step.Level,
				string(step.ApproverRole),
				string(step.Status),
				nullString(step.DecidedBy),
				step.DecidedAt,
				nullString(step.Comment),
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
			}
		}

		req.Version = 1
		return nil
	})
}

// GetByID loads a request and its trail. A stored trail that breaks the
// trail invariants is reported as an internal error rather than returned.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*workflow.ApprovalRequest, error) {
	query := `
		SELECT id, category, magnitude, purpose,
		       submitted_by, submitted_at, items, version
		FROM approval_requests
		WHERE id = $1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, err
	}

	steps, err := r.loadSteps(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	req.Steps = steps[id]
	if err := workflow.ValidateTrail(req.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "stored approval trail is inconsistent")
	}
	return req, nil
}

// SaveSteps writes the decided trail when the stored version still equals
// expectedVersion, then bumps the version. A stale version is a conflict.
func (r *ApprovalRequestRepository) SaveSteps(ctx context.Context, req *workflow.ApprovalRequest, expectedVersion int64) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE approval_requests
			SET status     = $3,
			    version    = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version
		`

		var newVersion int64
		err := tx.QueryRow(ctx, query, req.ID, expectedVersion, string(req.Status())).Scan(&newVersion)
		if err == pgx.ErrNoRows {
			return r.missingOrStale(ctx, tx, req.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval request")
		}

		stepQuery := `
			UPDATE approval_steps
			SET status     = $3,
			    decided_by = $4,
			    decided_at = $5,
			    comment    = $6
			WHERE request_id = $1 AND level = $2
		`
		for _, step := range req.Steps {
			_, err := tx.Exec(ctx, stepQuery,
				req.ID,
				step.Level,
				string(step.Status),
				nullString(step.DecidedBy),
				step.DecidedAt,
				nullString(step.Comment),
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval step")
			}
		}

		req.Version = newVersion
		return nil
	})
}

func (r *ApprovalRequestRepository) missingOrStale(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check approval request")
	}
	if !exists {
		return errors.NotFound("approval_request", id)
	}
	return errors.Conflict("approval request was modified concurrently")
}

// ListPendingForRole returns open requests whose lowest pending step belongs
// to role, oldest first.
func (r *ApprovalRequestRepository) ListPendingForRole(ctx context.Context, role workflow.Role) ([]*workflow.ApprovalRequest, error) {
	query := `
		SELECT r.id, r.category, r.magnitude, r.purpose,
		       r.submitted_by, r.submitted_at, r.items, r.version
		FROM approval_requests r
		JOIN approval_steps s ON s.request_id = r.id
		WHERE r.status IN ('pending', 'reviewing')
		  AND s.status = 'pending'
		  AND s.approver_role = $1
		  AND s.level = (
		      SELECT MIN(p.level) FROM approval_steps p
		      WHERE p.request_id = r.id AND p.status = 'pending'
		  )
		ORDER BY r.submitted_at ASC
	`

	rows, err := r.db.Query(ctx, query, string(role))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval queue")
	}
	defer rows.Close()

	var (
		requests []*workflow.ApprovalRequest
		ids      []string
	)
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
		ids = append(ids, req.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval queue")
	}
	if len(requests) == 0 {
		return nil, nil
	}

	steps, err := r.loadSteps(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, req := range requests {
		req.Steps = steps[req.ID]
	}
	return requests, nil
}

// CountByStatus returns how many requests sit in each derived status.
func (r *ApprovalRequestRepository) CountByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM approval_requests GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count approval requests")
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRequestRepository) scanRequest(sc rowScanner) (*workflow.ApprovalRequest, error) {
	req := &workflow.ApprovalRequest{}
	var itemsJSON []byte

	err := sc.Scan(
		&req.ID,
		&req.Category,
		&req.Magnitude,
		&req.Purpose,
		&req.SubmittedBy,
		&req.SubmittedAt,
		&itemsJSON,
		&req.Version,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
	}

	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &req.Items); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal expense items")
		}
	}
	return req, nil
}

func (r *ApprovalRequestRepository) loadSteps(ctx context.Context, ids []string) (map[string][]workflow.ApprovalStep, error) {
	query := `
		SELECT request_id, level, approver_role, status,
		       decided_by, decided_at, comment
		FROM approval_steps
		WHERE request_id = ANY($1)
		ORDER BY request_id, level ASC
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval steps")
	}
	defer rows.Close()

	out := make(map[string][]workflow.ApprovalStep, len(ids))
	for rows.Next() {
		var (
			requestID string
			role      string
			status    string
			decidedBy *string
			decidedAt *time.Time
			comment   *string
			step      workflow.ApprovalStep
		)
		if err := rows.Scan(&requestID, &step.Level, &role, &status, &decidedBy, &decidedAt, &comment); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		step.ApproverRole = workflow.Role(role)
		step.Status = workflow.StepStatus(status)
		step.DecidedAt = decidedAt
		if decidedBy != nil {
			step.DecidedBy = *decidedBy
		}
		if comment != nil {
			step.Comment = *comment
		}
		out[requestID] = append(out[requestID], step)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
