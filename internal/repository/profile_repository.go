package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
)

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Resolve(ctx context.Context, piUID, username string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO profiles (id, pi_uid, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (pi_uid) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, pi_uid, username, created_at
	`, uuid.New().String(), piUID, username).Scan(&profile.ID, &profile.PiUID, &profile.Username, &profile.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.QueryRowContext(ctx,
		`SELECT id, pi_uid, username, created_at FROM profiles WHERE id = $1`, id,
	).Scan(&profile.ID, &profile.PiUID, &profile.Username, &profile.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
