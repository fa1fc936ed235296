package interfaces

import (
	"context"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
)

// PaymentRepository defines the contract for payment data access
type PaymentRepository interface {
	// Create inserts the payment unless a record with the same ID already exists.
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	// Transition moves a payment from one status to another and returns
	// models.ErrInvalidTransition when the payment is not in from.
	Transition(ctx context.Context, id string, from, to models.PaymentStatus) error
	// Complete stores the verified transaction, marks the approved payment completed and
	// queues msgs for delivery in one database transaction.
	Complete(ctx context.Context, vt *models.VerifiedTransaction, msgs ...outbox.Message) error
	RecordError(ctx context.Context, id, message string) error
	GetVerification(ctx context.Context, paymentID string) (*models.VerifiedTransaction, error)
	ListByStatus(ctx context.Context, status models.PaymentStatus, limit int) ([]*models.Payment, error)
}
