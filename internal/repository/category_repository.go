package repository

import (
	"context"

	"github.com/pesio-ai/be-workflow-engine/internal/database"
	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// CategoryRepository reads the expense category table.
type CategoryRepository struct {
	db *database.DB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db *database.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// List returns every category rule ordered by code.
func (r *CategoryRepository) List(ctx context.Context) ([]workflow.CategoryRule, error) {
	query := `
		SELECT code, label, bucket, spending_limit, mandatory_approver
		FROM expense_categories
		ORDER BY code
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expense categories")
	}
	defer rows.Close()

	var rules []workflow.CategoryRule
	for rows.Next() {
		var (
			rule     workflow.CategoryRule
			bucket   string
			approver string
		)
		if err := rows.Scan(&rule.Code, &rule.Label, &bucket, &rule.SpendingLimit, &approver); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expense category")
		}
		rule.Bucket = workflow.Bucket(bucket)
		rule.MandatoryApprover = workflow.Role(approver)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Upsert writes rules into the table, replacing rows with the same code.
func (r *CategoryRepository) Upsert(ctx context.Context, rules []workflow.CategoryRule) error {
	query := `
		INSERT INTO expense_categories (code, label, bucket, spending_limit, mandatory_approver)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE
		SET label              = EXCLUDED.label,
		    bucket             = EXCLUDED.bucket,
		    spending_limit     = EXCLUDED.spending_limit,
		    mandatory_approver = EXCLUDED.mandatory_approver
	`
	for _, rule := range rules {
		_, err := r.db.Exec(ctx, query,
			rule.Code,
			rule.Label,
			string(rule.Bucket),
			rule.SpendingLimit,
			string(rule.MandatoryApprover),
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert expense category")
		}
	}
	return nil
}
