package repository

import (
	"context"
	"database/sql"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetItem(ctx context.Context, id, itemType string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := r.db.QueryRowContext(ctx, `
		SELECT id, item_type, title, price, seller_id, active, created_at
		FROM catalog_items WHERE id = $1 AND item_type = $2
	`, id, itemType).Scan(&item.ID, &item.ItemType, &item.Title, &item.Price, &item.SellerID,
		&item.Active, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *CatalogRepository) Upsert(ctx context.Context, item *models.CatalogItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO catalog_items (id, item_type, title, price, seller_id, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, item_type) DO UPDATE
		SET title = EXCLUDED.title, price = EXCLUDED.price, seller_id = EXCLUDED.seller_id, active = EXCLUDED.active
	`, item.ID, item.ItemType, item.Title, item.Price, item.SellerID, item.Active)
	return err
}
