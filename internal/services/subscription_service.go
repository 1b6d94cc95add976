package services

import (
	"context"
	"errors"
	"time"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/gateways"
	"skylearn_backend/internal/logger"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
	"skylearn_backend/internal/validator"
)

// CreateSubscriptionRequest starts a recurring billing relationship.
type CreateSubscriptionRequest struct {
	UserID    string  `json:"user_id" validate:"required,uuid"`
	PlanID    string  `json:"plan" validate:"required"`
	CourseID  string  `json:"course_id" validate:"required"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Currency  string  `json:"currency" validate:"required,currency"`
	Interval  string  `json:"interval" validate:"required,is-interval"`
	TrialDays int     `json:"trial_days" validate:"min=0"`
	Gateway   string  `json:"gateway" validate:"required"`
	SubRef    string  `json:"-"` // gateway subscription reference, webhook path only
}

// SubscriptionService is the subscription state machine. Transitions not
// permitted from the current state fail with InvalidTransition; this is what
// reconciles out-of-order webhook delivery.
type SubscriptionService interface {
	Create(ctx context.Context, req *CreateSubscriptionRequest) (*models.Subscription, error)
	Renew(ctx context.Context, subscriptionID string, nextPayment time.Time) (*models.Subscription, error)
	MarkPastDue(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	Cancel(ctx context.Context, subscriptionID, reason string) (*models.Subscription, error)
	Reactivate(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	Get(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	FindByGatewayRef(ctx context.Context, gateway, subRef string) (*models.Subscription, error)
	List(ctx context.Context, userID string, page, perPage int) ([]models.Subscription, int64, error)
}

type subscriptionService struct {
	subRepo  repositories.SubscriptionRepository
	userRepo repositories.UserRepository
	gateways map[string]gateways.Gateway
	locks    *repositories.LockManager
	now      func() time.Time
}

func NewSubscriptionService(
	subRepo repositories.SubscriptionRepository,
	userRepo repositories.UserRepository,
	gatewayMap map[string]gateways.Gateway,
	locks *repositories.LockManager,
) SubscriptionService {
	return &subscriptionService{
		subRepo:  subRepo,
		userRepo: userRepo,
		gateways: gatewayMap,
		locks:    locks,
		now:      time.Now,
	}
}

// intervalAfter advances from into the next billing period.
func intervalAfter(from time.Time, interval models.BillingInterval) time.Time {
	if interval == models.IntervalYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

func (s *subscriptionService) Create(ctx context.Context, req *CreateSubscriptionRequest) (*models.Subscription, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	sub := &models.Subscription{
		UserID:        req.UserID,
		PlanID:        req.PlanID,
		CourseID:      req.CourseID,
		AmountMinor:   MinorUnits(req.Amount),
		Currency:      normalizeCurrency(req.Currency),
		Interval:      models.BillingInterval(req.Interval),
		TrialDays:     req.TrialDays,
		Gateway:       req.Gateway,
		GatewaySubRef: req.SubRef,
	}

	if req.TrialDays > 0 {
		sub.Status = models.SubscriptionStatusTrialing
		sub.NextPayment = now.AddDate(0, 0, req.TrialDays)
	} else {
		sub.Status = models.SubscriptionStatusActive
		sub.NextPayment = intervalAfter(now, sub.Interval)
	}

	if err := s.subRepo.Create(sub); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "subscription created",
		"subscription_id", sub.ID, "user_id", sub.UserID, "plan", sub.PlanID, "status", sub.Status)

	return sub, nil
}

// Renew moves trialing/active/past_due to active and advances next_payment.
func (s *subscriptionService) Renew(ctx context.Context, subscriptionID string, nextPayment time.Time) (*models.Subscription, error) {
	unlock := s.locks.Lock("sub:" + subscriptionID)
	defer unlock()

	sub, err := s.find(subscriptionID)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case models.SubscriptionStatusTrialing, models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
	default:
		return nil, s.invalidTransition(sub, "renew")
	}

	if nextPayment.IsZero() {
		nextPayment = intervalAfter(s.now(), sub.Interval)
	}

	sub.Status = models.SubscriptionStatusActive
	sub.NextPayment = nextPayment
	if err := s.subRepo.Update(sub); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "subscription renewed", "subscription_id", sub.ID, "next_payment", sub.NextPayment)
	return sub, nil
}

// MarkPastDue records a failed renewal charge.
func (s *subscriptionService) MarkPastDue(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	unlock := s.locks.Lock("sub:" + subscriptionID)
	defer unlock()

	sub, err := s.find(subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.Status != models.SubscriptionStatusActive {
		return nil, s.invalidTransition(sub, "mark_past_due")
	}

	sub.Status = models.SubscriptionStatusPastDue
	if err := s.subRepo.Update(sub); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxWarn(ctx, "subscription past due", "subscription_id", sub.ID)
	return sub, nil
}

// Cancel is allowed from any non-cancelled state. The provider-side cancel
// runs after the local transition and is best-effort: the local ledger is
// authoritative for access.
func (s *subscriptionService) Cancel(ctx context.Context, subscriptionID, reason string) (*models.Subscription, error) {
	sub, err := s.cancelLocal(ctx, subscriptionID, reason)
	if err != nil {
		return nil, err
	}

	if gw, ok := s.gateways[sub.Gateway]; ok && sub.GatewaySubRef != "" {
		if err := gw.CancelSubscription(ctx, sub.GatewaySubRef); err != nil {
			logger.CtxWithError(ctx, "provider-side cancel failed", err,
				"subscription_id", sub.ID, "gateway", sub.Gateway)
		}
	}

	return sub, nil
}

func (s *subscriptionService) cancelLocal(ctx context.Context, subscriptionID, reason string) (*models.Subscription, error) {
	unlock := s.locks.Lock("sub:" + subscriptionID)
	defer unlock()

	sub, err := s.find(subscriptionID)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case models.SubscriptionStatusTrialing, models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
	default:
		return nil, s.invalidTransition(sub, "cancel")
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.ReactivatedAt = nil
	if err := s.subRepo.Update(sub); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "subscription cancelled", "subscription_id", sub.ID, "reason", reason)
	return sub, nil
}

// Reactivate brings a cancelled subscription back to active, clearing
// cancelled_at. Cancelled is not terminal; only an explicit delete would be,
// and the engine never deletes.
func (s *subscriptionService) Reactivate(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	unlock := s.locks.Lock("sub:" + subscriptionID)
	defer unlock()

	sub, err := s.find(subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.Status != models.SubscriptionStatusCancelled {
		return nil, s.invalidTransition(sub, "reactivate")
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusActive
	sub.CancelledAt = nil
	sub.ReactivatedAt = &now
	sub.NextPayment = intervalAfter(now, sub.Interval)
	if err := s.subRepo.Update(sub); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "subscription reactivated", "subscription_id", sub.ID)
	return sub, nil
}

func (s *subscriptionService) Get(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	return s.find(subscriptionID)
}

func (s *subscriptionService) FindByGatewayRef(ctx context.Context, gateway, subRef string) (*models.Subscription, error) {
	sub, err := s.subRepo.FindByGatewaySubRef(gateway, subRef)
	if err != nil {
		if errors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil, appErrors.ErrSubscriptionNotFound
		}
		return nil, appErrors.DatabaseError(err)
	}
	return sub, nil
}

func (s *subscriptionService) List(ctx context.Context, userID string, page, perPage int) ([]models.Subscription, int64, error) {
	subs, total, err := s.subRepo.List(userID, page, perPage)
	if err != nil {
		return nil, 0, appErrors.DatabaseError(err)
	}
	return subs, total, nil
}

func (s *subscriptionService) find(subscriptionID string) (*models.Subscription, error) {
	sub, err := s.subRepo.FindByID(subscriptionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil, appErrors.ErrSubscriptionNotFound
		}
		return nil, appErrors.DatabaseError(err)
	}
	return sub, nil
}

func (s *subscriptionService) invalidTransition(sub *models.Subscription, op string) error {
	return appErrors.ErrInvalidTransition.WithDetails(map[string]string{
		"subscription_id": sub.ID,
		"status":          string(sub.Status),
		"operation":       op,
	})
}

func (s *subscriptionService) validate(req *CreateSubscriptionRequest) error {
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
