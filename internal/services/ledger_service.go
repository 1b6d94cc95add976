package services

import (
	"context"
	"errors"
	"math"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/gateways"
	"skylearn_backend/internal/logger"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
	"skylearn_backend/internal/validator"
)

// CreateTransactionRequest is the synchronous checkout input.
type CreateTransactionRequest struct {
	UserID        string  `json:"user_id" validate:"required,uuid"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	Currency      string  `json:"currency" validate:"required,currency"`
	CourseID      string  `json:"course_id" validate:"required"`
	Gateway       string  `json:"gateway" validate:"required"`
	PaymentMethod string  `json:"payment_method" validate:"required"`
}

// LedgerService owns Transaction records. All status changes go through the
// per-entity lock; gateway calls happen outside it.
type LedgerService interface {
	Checkout(ctx context.Context, req *CreateTransactionRequest) (*models.Transaction, error)
	Create(ctx context.Context, req *CreateTransactionRequest) (*models.Transaction, error)
	MarkCompleted(ctx context.Context, transactionID, gatewayRef string) (*models.Transaction, error)
	MarkFailed(ctx context.Context, transactionID, reason string) (*models.Transaction, error)
	Refund(ctx context.Context, transactionID string) (*models.Transaction, error)
	MarkRefunded(ctx context.Context, transactionID string) (*models.Transaction, error)
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
	List(ctx context.Context, filter repositories.TransactionFilter, page, perPage int) ([]models.Transaction, int64, error)
}

type ledgerService struct {
	txnRepo    repositories.TransactionRepository
	userRepo   repositories.UserRepository
	gateways   map[string]gateways.Gateway
	locks      *repositories.LockManager
	dispatcher Dispatcher
}

func NewLedgerService(
	txnRepo repositories.TransactionRepository,
	userRepo repositories.UserRepository,
	gatewayMap map[string]gateways.Gateway,
	locks *repositories.LockManager,
	dispatcher Dispatcher,
) LedgerService {
	return &ledgerService{
		txnRepo:    txnRepo,
		userRepo:   userRepo,
		gateways:   gatewayMap,
		locks:      locks,
		dispatcher: dispatcher,
	}
}

// MinorUnits converts a decimal major-unit amount to minor units.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Create validates and writes a pending transaction. Nothing reaches the
// ledger on validation failure.
func (s *ledgerService) Create(ctx context.Context, req *CreateTransactionRequest) (*models.Transaction, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		UserID:      req.UserID,
		AmountMinor: MinorUnits(req.Amount),
		Currency:    normalizeCurrency(req.Currency),
		Gateway:     req.Gateway,
		Status:      models.TransactionStatusPending,
		CourseID:    req.CourseID,
	}

	if err := s.txnRepo.Create(txn); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "transaction created",
		"transaction_id", txn.ID, "user_id", txn.UserID, "amount_minor", txn.AmountMinor)

	return txn, nil
}

// Checkout is the synchronous purchase path: pending transaction, gateway
// charge, then completed/failed, then enrollment dispatch on success.
func (s *ledgerService) Checkout(ctx context.Context, req *CreateTransactionRequest) (*models.Transaction, error) {
	txn, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	gw := s.gateways[req.Gateway]

	result, chargeErr := gw.Charge(ctx, gateways.ChargeRequest{
		AmountMinor:      txn.AmountMinor,
		Currency:         txn.Currency,
		PaymentMethodRef: req.PaymentMethod,
		Metadata:         map[string]string{"transaction_id": txn.ID, "course_id": txn.CourseID},
	})
	if chargeErr != nil {
		if _, failErr := s.MarkFailed(ctx, txn.ID, chargeErr.Error()); failErr != nil {
			logger.CtxWithError(ctx, "failed to record charge failure", failErr, "transaction_id", txn.ID)
		}
		return nil, mapGatewayError(chargeErr)
	}

	completed, err := s.MarkCompleted(ctx, txn.ID, result.GatewayRef)
	if err != nil {
		return nil, err
	}

	s.dispatcher.DispatchGrant(completed.UserID, completed.CourseID, models.SourceTransaction, completed.ID)

	return completed, nil
}

// MarkCompleted moves a transaction to completed. Replays with a matching
// gateway reference are a no-op success; a terminal transaction claimed with
// a different reference surfaces as Conflict and is never overwritten.
func (s *ledgerService) MarkCompleted(ctx context.Context, transactionID, gatewayRef string) (*models.Transaction, error) {
	unlock := s.locks.Lock("txn:" + transactionID)
	defer unlock()

	txn, err := s.find(transactionID)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case models.TransactionStatusCompleted, models.TransactionStatusRefunded:
		if txn.GatewayRef == gatewayRef {
			return txn, nil
		}
		return nil, appErrors.ErrConflict.WithDetails(map[string]string{
			"transaction_id": txn.ID,
			"gateway_ref":    txn.GatewayRef,
			"claimed_ref":    gatewayRef,
		})
	}

	txn.Status = models.TransactionStatusCompleted
	txn.GatewayRef = gatewayRef
	txn.FailureReason = ""
	if err := s.txnRepo.Update(txn); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "transaction completed", "transaction_id", txn.ID, "gateway_ref", gatewayRef)
	return txn, nil
}

func (s *ledgerService) MarkFailed(ctx context.Context, transactionID, reason string) (*models.Transaction, error) {
	unlock := s.locks.Lock("txn:" + transactionID)
	defer unlock()

	txn, err := s.find(transactionID)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case models.TransactionStatusFailed:
		return txn, nil
	case models.TransactionStatusCompleted, models.TransactionStatusRefunded:
		return nil, appErrors.ErrConflict.WithDetails(map[string]string{
			"transaction_id": txn.ID,
			"status":         string(txn.Status),
		})
	}

	txn.Status = models.TransactionStatusFailed
	txn.FailureReason = reason
	if err := s.txnRepo.Update(txn); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxWarn(ctx, "transaction failed", "transaction_id", txn.ID, "reason", reason)
	return txn, nil
}

// Refund issues the provider refund, then records it. The gateway call runs
// before the lock is taken so network latency never blocks other writers.
func (s *ledgerService) Refund(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := s.find(transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status == models.TransactionStatusRefunded {
		return txn, nil
	}
	if txn.Status != models.TransactionStatusCompleted {
		return nil, appErrors.ErrConflict.WithDetails(map[string]string{
			"transaction_id": txn.ID,
			"status":         string(txn.Status),
		})
	}

	gw, ok := s.gateways[txn.Gateway]
	if !ok {
		return nil, appErrors.ErrGatewayInvalidRequest.WithDetails(map[string]string{"gateway": txn.Gateway})
	}
	if err := gw.Refund(ctx, txn.GatewayRef); err != nil {
		return nil, mapGatewayError(err)
	}

	refunded, err := s.MarkRefunded(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	s.dispatcher.DispatchRevoke(refunded.UserID, refunded.CourseID, models.SourceTransaction, refunded.ID)
	return refunded, nil
}

// MarkRefunded records a refund that already happened at the gateway
// (webhook path).
func (s *ledgerService) MarkRefunded(ctx context.Context, transactionID string) (*models.Transaction, error) {
	unlock := s.locks.Lock("txn:" + transactionID)
	defer unlock()

	txn, err := s.find(transactionID)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case models.TransactionStatusRefunded:
		return txn, nil
	case models.TransactionStatusCompleted:
	default:
		return nil, appErrors.ErrConflict.WithDetails(map[string]string{
			"transaction_id": txn.ID,
			"status":         string(txn.Status),
		})
	}

	txn.Status = models.TransactionStatusRefunded
	if err := s.txnRepo.Update(txn); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "transaction refunded", "transaction_id", txn.ID)
	return txn, nil
}

func (s *ledgerService) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.find(transactionID)
}

func (s *ledgerService) List(ctx context.Context, filter repositories.TransactionFilter, page, perPage int) ([]models.Transaction, int64, error) {
	txns, total, err := s.txnRepo.List(filter, page, perPage)
	if err != nil {
		return nil, 0, appErrors.DatabaseError(err)
	}
	return txns, total, nil
}

func (s *ledgerService) find(transactionID string) (*models.Transaction, error) {
	txn, err := s.txnRepo.FindByID(transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, appErrors.ErrTransactionNotFound
		}
		return nil, appErrors.DatabaseError(err)
	}
	return txn, nil
}

// validate runs struct rules plus referential checks, collecting all field
// errors into one ValidationFailed detail list.
func (s *ledgerService) validate(req *CreateTransactionRequest) error {
	details := make(map[string]string)

	if err := sharedValidator.Validate(req); err != nil {
		var vErr *validator.ValidationError
		if errors.As(err, &vErr) {
			for field, msg := range vErr.Errors {
				details[field] = msg
			}
		} else {
			return appErrors.InternalError(err)
		}
	}

	if _, ok := details["user_id"]; !ok && req.UserID != "" {
		if _, err := s.userRepo.FindByID(req.UserID); err != nil {
			details["user_id"] = "Unknown user"
		}
	}
	if _, ok := details["gateway"]; !ok && req.Gateway != "" {
		if _, found := s.gateways[req.Gateway]; !found {
			details["gateway"] = "Unknown gateway"
		}
	}

	if len(details) > 0 {
		return appErrors.ValidationError(details)
	}
	return nil
}
