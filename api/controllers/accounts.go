package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/circulum-backend/api/middleware"
	"github.com/angelmondragon/circulum-backend/api/responses"
	"github.com/angelmondragon/circulum-backend/api/validators"
	"github.com/angelmondragon/circulum-backend/internal/treasury"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
)

// AccountsService is the treasury surface the account endpoints need.
type AccountsService interface {
	CreateAccount(ctx context.Context, input treasury.CreateAccountInput) (*models.TokenAccount, error)
	GetAccount(ctx context.Context, principal, accountID uuid.UUID) (*models.TokenAccount, error)
	ListAccounts(ctx context.Context, principal uuid.UUID) ([]models.TokenAccount, error)
	Deposit(ctx context.Context, principal, accountID uuid.UUID, amount uint64) (*models.TokenAccount, error)
}

type accountResponse struct {
	ID           uuid.UUID `json:"id"`
	Owner        uuid.UUID `json:"owner"`
	Mint         string    `json:"mint"`
	BalanceUnits uint64    `json:"balance_units"`
}

func newAccountResponse(account *models.TokenAccount) accountResponse {
	return accountResponse{
		ID:           account.ID,
		Owner:        account.Owner,
		Mint:         account.Mint,
		BalanceUnits: account.BalanceUnits,
	}
}

type createAccountRequest struct {
	Mint string `json:"mint" validate:"required"`
}

func AccountCreate(svc AccountsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.CreateAccount(r.Context(), treasury.CreateAccountInput{
			Owner: middleware.PrincipalFromContext(r.Context()),
			Mint:  req.Mint,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newAccountResponse(account))
	}
}

func AccountList(svc AccountsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := svc.ListAccounts(r.Context(), middleware.PrincipalFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]accountResponse, 0, len(accounts))
		for i := range accounts {
			out = append(out, newAccountResponse(&accounts[i]))
		}
		responses.WriteSuccess(w, map[string]any{"items": out})
	}
}

func AccountDetail(svc AccountsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathUUID(r, "accountID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.GetAccount(r.Context(), middleware.PrincipalFromContext(r.Context()), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newAccountResponse(account))
	}
}

type depositRequest struct {
	AmountUnits uint64 `json:"amount_units" validate:"required"`
}

func AccountDeposit(svc AccountsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathUUID(r, "accountID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req depositRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.Deposit(r.Context(), middleware.PrincipalFromContext(r.Context()), accountID, req.AmountUnits)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newAccountResponse(account))
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "path parameter must be a uuid").
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
