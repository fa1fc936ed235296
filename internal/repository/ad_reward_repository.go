package repository

import (
	"context"
	"database/sql"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
)

type AdRewardRepository struct {
	db *sql.DB
}

func NewAdRewardRepository(db *sql.DB) *AdRewardRepository {
	return &AdRewardRepository{db: db}
}

// Record stores the reward and, when it is new, msgs in the same transaction.
func (r *AdRewardRepository) Record(ctx context.Context, reward *models.AdReward, msgs ...outbox.Message) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ad_rewards (ad_id, profile_id, pi_uid, status, amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ad_id) DO NOTHING
	`, reward.AdID, reward.ProfileID, reward.PiUID, reward.Status, reward.Amount)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}
	if err := insertOutbox(ctx, tx, msgs); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (r *AdRewardRepository) GetByAdID(ctx context.Context, adID string) (*models.AdReward, error) {
	var reward models.AdReward
	err := r.db.QueryRowContext(ctx, `
		SELECT ad_id, profile_id, pi_uid, status, amount, created_at
		FROM ad_rewards WHERE ad_id = $1
	`, adID).Scan(&reward.AdID, &reward.ProfileID, &reward.PiUID, &reward.Status, &reward.Amount, &reward.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &reward, nil
}
