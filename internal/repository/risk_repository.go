package repository

import (
	"context"
	"database/sql"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/risk"
)

type RiskRepository struct {
	db *sql.DB
}

func NewRiskRepository(db *sql.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

func (r *RiskRepository) SaveDecision(ctx context.Context, req risk.Request, resp risk.Response) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO risk_decisions (payment_id, purchaser, amount, decision, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, req.PaymentID, req.Purchaser, req.Amount, resp.Decision, resp.Reason)
	return err
}

type RiskStats struct {
	TotalChecks   int `json:"total_checks"`
	ApprovedCount int `json:"approved_count"`
	DeniedCount   int `json:"denied_count"`
	ManualReview  int `json:"manual_review_count"`
}

func (r *RiskRepository) Stats(ctx context.Context) (*RiskStats, error) {
	var stats RiskStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN decision = 'approve' THEN 1 END),
			COUNT(CASE WHEN decision = 'deny' THEN 1 END),
			COUNT(CASE WHEN decision = 'manual_review' THEN 1 END)
		FROM risk_decisions
	`).Scan(&stats.TotalChecks, &stats.ApprovedCount, &stats.DeniedCount, &stats.ManualReview)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
