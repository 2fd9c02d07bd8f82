package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
)

// MemoryStore keeps loans and payments in process memory. It honours the same
// version check as SQLiteStore and hands out copies so callers cannot mutate
// stored records.
type MemoryStore struct {
	mu       sync.RWMutex
	loans    map[uuid.UUID]models.Loan
	payments map[uuid.UUID][]models.Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:    make(map[uuid.UUID]models.Loan),
		payments: make(map[uuid.UUID][]models.Payment),
	}
}

func (m *MemoryStore) CreateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loan.Version == 0 {
		loan.Version = 1
	}
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MemoryStore) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &loan, nil
}

func (m *MemoryStore) ListLoans(_ context.Context) ([]*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loans := make([]*models.Loan, 0, len(m.loans))
	for _, l := range m.loans {
		loan := l
		loans = append(loans, &loan)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].TransferAt.After(loans[j].TransferAt) })
	return loans, nil
}

func (m *MemoryStore) ListActiveLoans(_ context.Context) ([]*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if l.IsActive() {
			loan := l
			loans = append(loans, &loan)
		}
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].DueAt.Before(loans[j].DueAt) })
	return loans, nil
}

func (m *MemoryStore) DeleteLoan(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[id]; !ok {
		return ErrLoanNotFound
	}
	delete(m.loans, id)
	delete(m.payments, id)
	return nil
}

func (m *MemoryStore) ApplyPayment(_ context.Context, payment *models.Payment, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.loans[loan.ID]
	if !ok {
		return ErrLoanNotFound
	}
	if stored.Version != loan.Version {
		return ErrVersionConflict
	}

	stored.PrincipalOpen = loan.PrincipalOpen
	stored.CycleInterestAmount = loan.CycleInterestAmount
	stored.DueAt = loan.DueAt
	stored.Status = loan.Status
	stored.UpdatedAt = loan.UpdatedAt
	stored.Version++
	m.loans[loan.ID] = stored
	m.payments[loan.ID] = append(m.payments[loan.ID], *payment)

	loan.Version = stored.Version
	return nil
}

func (m *MemoryStore) ListPaymentsForLoan(_ context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payments := []*models.Payment{}
	for _, p := range m.payments[loanID] {
		payment := p
		payments = append(payments, &payment)
	}
	sort.SliceStable(payments, func(i, j int) bool {
		if !payments[i].PaidAt.Equal(payments[j].PaidAt) {
			return payments[i].PaidAt.Before(payments[j].PaidAt)
		}
		return payments[i].CreatedAt.Before(payments[j].CreatedAt)
	})
	return payments, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Storage = (*MemoryStore)(nil)
