package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
)

var (
	ErrLoanNotFound = errors.New("loan not found")
	// ErrVersionConflict means the loan changed between read and write.
	ErrVersionConflict = errors.New("loan was modified concurrently")
)

// Storage defines the interface for database operations related to loans and payments.
//
// ApplyPayment inserts the payment and writes the loan's mutable fields in one
// unit. The write only succeeds if the stored version still equals loan.Version;
// on success loan.Version is incremented.
type Storage interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	ListLoans(ctx context.Context) ([]*models.Loan, error)
	ListActiveLoans(ctx context.Context) ([]*models.Loan, error)
	DeleteLoan(ctx context.Context, id uuid.UUID) error

	ApplyPayment(ctx context.Context, payment *models.Payment, loan *models.Loan) error
	ListPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error)

	Close() error
}
