package treasury

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/circulum-backend/internal/events"
	"github.com/angelmondragon/circulum-backend/internal/guard"
	"github.com/angelmondragon/circulum-backend/pkg/checked"
	"github.com/angelmondragon/circulum-backend/pkg/clock"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the treasury service.
type ServiceParams struct {
	DB     TxRunner
	Repo   Repository
	Events events.Recorder
	Clock  clock.Clock
}

// Service is the in-process transfer rail: token accounts and the
// balance movements every billing charge rides on.
type Service struct {
	db     TxRunner
	repo   Repository
	events events.Recorder
	clock  clock.Clock
}

// NewService builds a treasury service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Events == nil {
		return nil, errors.New("events recorder is required")
	}
	if params.Clock == nil {
		return nil, errors.New("clock is required")
	}
	return &Service{
		db:     params.DB,
		repo:   params.Repo,
		events: params.Events,
		clock:  params.Clock,
	}, nil
}

// CreateAccountInput captures the data for opening a token account.
type CreateAccountInput struct {
	Owner uuid.UUID
	Mint  string
}

// CreateAccount opens an empty account for the owner in the given mint.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (*models.TokenAccount, error) {
	if input.Owner == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner is required")
	}
	mint := strings.TrimSpace(input.Mint)
	if mint == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mint is required")
	}

	account := &models.TokenAccount{
		ID:    uuid.New(),
		Owner: input.Owner,
		Mint:  mint,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, account); err != nil {
			return err
		}
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:       models.EventTokenAccountCreated,
			Principal:  input.Owner,
			OccurredAt: s.clock.Now().Unix(),
			Payload:    map[string]any{"account_id": account.ID, "mint": mint},
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccount returns the account when the principal controls it.
func (s *Service) GetAccount(ctx context.Context, principal, accountID uuid.UUID) (*models.TokenAccount, error) {
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "token account not found")
	}
	if err := guard.RequireAccountOwner(account, principal); err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns every account the principal controls.
func (s *Service) ListAccounts(ctx context.Context, principal uuid.UUID) ([]models.TokenAccount, error) {
	if principal == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner is required")
	}
	return s.repo.ListByOwner(ctx, principal)
}

// Deposit credits the principal's own account. This is the rail's
// funding entry point; billing never mints units on its own.
func (s *Service) Deposit(ctx context.Context, principal, accountID uuid.UUID, amount uint64) (*models.TokenAccount, error) {
	if amount == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deposit amount must be greater than zero")
	}

	var updated *models.TokenAccount
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := repo.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "token account not found")
		}
		if err := guard.RequireAccountOwner(account, principal); err != nil {
			return err
		}

		balance, err := checked.AddUint64(account.BalanceUnits, amount)
		if err != nil {
			return err
		}
		account.BalanceUnits = balance
		if err := repo.Save(ctx, account); err != nil {
			return err
		}

		updated = account
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:        models.EventFundsDeposited,
			Principal:   principal,
			AmountUnits: amount,
			OccurredAt:  s.clock.Now().Unix(),
			Payload:     map[string]any{"account_id": account.ID, "mint": account.Mint},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TransferInput names the accounts and the authorizing principal for a
// balance movement.
type TransferInput struct {
	FromID      uuid.UUID
	ToID        uuid.UUID
	Authorizing uuid.UUID
	Amount      uint64
}

// Transfer moves amount between two accounts inside the caller's
// transaction. The authorizing principal must control the source
// account, both accounts must share a mint, and neither balance may
// wrap. Any failure leaves both balances untouched because the caller's
// transaction rolls back.
func (s *Service) Transfer(ctx context.Context, tx *gorm.DB, input TransferInput) error {
	if input.Amount == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be greater than zero")
	}
	if input.FromID == input.ToID {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer endpoints must differ")
	}

	repo := s.repo.WithTx(tx)

	// Lock in a stable order so two opposing transfers cannot deadlock.
	firstID, secondID := input.FromID, input.ToID
	if secondID.String() < firstID.String() {
		firstID, secondID = secondID, firstID
	}
	first, err := repo.FindByIDForUpdate(ctx, firstID)
	if err != nil {
		return err
	}
	second, err := repo.FindByIDForUpdate(ctx, secondID)
	if err != nil {
		return err
	}

	from, to := first, second
	if firstID != input.FromID {
		from, to = second, first
	}
	if from == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "source account not found")
	}
	if to == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "destination account not found")
	}

	if err := guard.RequireAccountOwner(from, input.Authorizing); err != nil {
		return err
	}
	if from.Mint != to.Mint {
		return pkgerrors.New(pkgerrors.CodeCurrencyMismatch, "token accounts reference different mints")
	}
	if from.BalanceUnits < input.Amount {
		return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds for transfer")
	}

	credited, err := checked.AddUint64(to.BalanceUnits, input.Amount)
	if err != nil {
		return err
	}
	debited, err := checked.SubUint64(from.BalanceUnits, input.Amount)
	if err != nil {
		return err
	}

	from.BalanceUnits = debited
	to.BalanceUnits = credited
	if err := repo.Save(ctx, from); err != nil {
		return err
	}
	return repo.Save(ctx, to)
}
