package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gorm.io/datatypes"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/gateways"
	"skylearn_backend/internal/logger"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
	"skylearn_backend/internal/validator"
)

// Webhook event types, normalized across gateways.
const (
	EventPaymentCompleted          = "payment.completed"
	EventPaymentFailed             = "payment.failed"
	EventPaymentRefunded           = "payment.refunded"
	EventSubscriptionCreated       = "subscription.created"
	EventSubscriptionRenewed       = "subscription.renewed"
	EventSubscriptionPaymentFailed = "subscription.payment_failed"
	EventSubscriptionCancelled     = "subscription.cancelled"
	EventSubscriptionReactivated   = "subscription.reactivated"
)

// WebhookResult is what the HTTP layer reports back to the gateway.
type WebhookResult struct {
	Received  bool `json:"received"`
	Processed bool `json:"processed"`
}

// WebhookService is the ingestion pipeline: verify, parse, dedupe, apply
// under the entity lock, record, then enqueue enrollment dispatch. The
// response to the gateway never waits on the LMS.
type WebhookService interface {
	Process(ctx context.Context, gatewayName string, rawBody []byte, signatureHeader string) (*WebhookResult, error)
}

type webhookService struct {
	gateways      map[string]gateways.Gateway
	secrets       map[string]string
	eventRepo     repositories.WebhookEventRepository
	txnRepo       repositories.TransactionRepository
	userRepo      repositories.UserRepository
	ledger        LedgerService
	subscriptions SubscriptionService
	locks         *repositories.LockManager
	dispatcher    Dispatcher
}

func NewWebhookService(
	gatewayMap map[string]gateways.Gateway,
	secrets map[string]string,
	eventRepo repositories.WebhookEventRepository,
	txnRepo repositories.TransactionRepository,
	userRepo repositories.UserRepository,
	ledger LedgerService,
	subscriptions SubscriptionService,
	locks *repositories.LockManager,
	dispatcher Dispatcher,
) WebhookService {
	return &webhookService{
		gateways:      gatewayMap,
		secrets:       secrets,
		eventRepo:     eventRepo,
		txnRepo:       txnRepo,
		userRepo:      userRepo,
		ledger:        ledger,
		subscriptions: subscriptions,
		locks:         locks,
		dispatcher:    dispatcher,
	}
}

// sideEffect is an enrollment dispatch deferred until after the entity lock
// is released and the event recorded.
type sideEffect struct {
	userID   string
	courseID string
	source   string
	sourceID string
	revoke   bool
}

func (s *webhookService) Process(ctx context.Context, gatewayName string, rawBody []byte, signatureHeader string) (*WebhookResult, error) {
	gw, ok := s.gateways[gatewayName]
	if !ok {
		return nil, appErrors.ErrGatewayNotFound
	}

	// Step 1: signature. A forged request never creates an idempotency
	// record, so an attacker cannot burn dedup slots with invented ids.
	if !gw.VerifyWebhookSignature(rawBody, signatureHeader, s.secrets[gatewayName]) {
		logger.CtxWarn(ctx, "webhook signature verification failed", "gateway", gatewayName)
		return nil, appErrors.ErrSignatureInvalid
	}

	// Step 2: parse. A malformed payload whose id field still parsed is
	// recorded so its retries stop reprocessing.
	event, parseErr := gw.ParseEvent(rawBody)
	if parseErr != nil {
		if event != nil && event.ID != "" {
			s.record(ctx, gatewayName, event, rawBody, models.WebhookOutcomeRejected, appErrors.CodeParseError)
		}
		return nil, appErrors.ErrParseError.WithError(parseErr)
	}

	// Step 3: idempotency. Accepted events are answered from the record;
	// the domain is not touched again. Rejected events replay their
	// original rejection code.
	if prior, err := s.eventRepo.Find(gatewayName, event.ID); err == nil {
		logger.CtxInfo(ctx, "duplicate webhook delivery", "gateway", gatewayName, "event_id", event.ID, "outcome", prior.Outcome)
		if prior.Outcome == models.WebhookOutcomeRejected {
			return nil, rejectionReplay(prior)
		}
		if markErr := s.eventRepo.MarkDuplicate(gatewayName, event.ID); markErr != nil {
			logger.CtxWarn(ctx, "duplicate outcome not recorded", "event_id", event.ID, "error", markErr)
		}
		return &WebhookResult{Received: true, Processed: true}, nil
	} else if !errors.Is(err, repositories.ErrWebhookEventNotFound) {
		return nil, appErrors.DatabaseError(err)
	}

	// Steps 4-5: apply the domain action under the entity lock derived
	// from the payload, then record the outcome. Only domain-level
	// rejections become terminal records; a transient internal failure
	// leaves nothing behind, so the gateway's retry reprocesses the event.
	effects, applyErr := s.apply(ctx, gatewayName, event)
	if applyErr != nil {
		if isDomainRejection(applyErr) {
			s.record(ctx, gatewayName, event, rawBody, models.WebhookOutcomeRejected, errorCode(applyErr))
		}
		return nil, applyErr
	}

	s.record(ctx, gatewayName, event, rawBody, models.WebhookOutcomeAccepted, "")

	// Step 6: enrollment dispatch is asynchronous; the gateway gets its
	// ack without waiting on the LMS.
	for _, fx := range effects {
		if fx.revoke {
			s.dispatcher.DispatchRevoke(fx.userID, fx.courseID, fx.source, fx.sourceID)
		} else {
			s.dispatcher.DispatchGrant(fx.userID, fx.courseID, fx.source, fx.sourceID)
		}
	}

	return &WebhookResult{Received: true, Processed: true}, nil
}

type paymentEventData struct {
	TransactionID string  `json:"transaction_id"`
	UserID        string  `json:"user_id"`
	CourseID      string  `json:"course_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	CustomerEmail string  `json:"customer_email"`
	Reason        string  `json:"reason"`
}

type subscriptionEventData struct {
	SubscriptionID string  `json:"subscription_id"`
	UserID         string  `json:"user_id"`
	PlanID         string  `json:"plan"`
	CourseID       string  `json:"course_id"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Interval       string  `json:"interval"`
	TrialDays      int     `json:"trial_days"`
	CustomerEmail  string  `json:"customer_email"`
	NextPayment    int64   `json:"next_payment"`
	Reason         string  `json:"reason"`
}

func (s *webhookService) apply(ctx context.Context, gatewayName string, event *gateways.Event) ([]sideEffect, error) {
	switch event.Type {
	case EventPaymentCompleted, EventPaymentFailed, EventPaymentRefunded:
		var data paymentEventData
		if err := json.Unmarshal(event.Data, &data); err != nil || data.TransactionID == "" {
			return nil, appErrors.ErrParseError.WithDetails(map[string]string{"field": "data.transaction_id"})
		}
		return s.applyPayment(ctx, gatewayName, event.Type, &data)

	case EventSubscriptionCreated, EventSubscriptionRenewed, EventSubscriptionPaymentFailed,
		EventSubscriptionCancelled, EventSubscriptionReactivated:
		var data subscriptionEventData
		if err := json.Unmarshal(event.Data, &data); err != nil || data.SubscriptionID == "" {
			return nil, appErrors.ErrParseError.WithDetails(map[string]string{"field": "data.subscription_id"})
		}
		return s.applySubscription(ctx, gatewayName, event.Type, &data)

	default:
		logger.CtxWarn(ctx, "unhandled webhook event type", "gateway", gatewayName, "type", event.Type)
		return nil, appErrors.ErrParseError.WithDetails(map[string]string{"event": event.Type})
	}
}

// applyPayment reconciles a payment event against the ledger, creating the
// transaction when the gateway originated it (hosted checkout).
func (s *webhookService) applyPayment(ctx context.Context, gatewayName, eventType string, data *paymentEventData) ([]sideEffect, error) {
	// Serialize concurrent deliveries claiming the same gateway reference.
	unlock := s.locks.Lock("gwref:" + gatewayName + ":" + data.TransactionID)
	defer unlock()

	txn, err := s.txnRepo.FindByGatewayRef(gatewayName, data.TransactionID)
	if err != nil && !errors.Is(err, repositories.ErrTransactionNotFound) {
		return nil, appErrors.DatabaseError(err)
	}

	if txn == nil {
		if eventType == EventPaymentRefunded {
			// A refund for a transaction the ledger never saw cannot be
			// reconciled.
			return nil, appErrors.ErrTransactionNotFound
		}
		created, err := s.createFromEvent(ctx, gatewayName, eventType, data)
		if err != nil {
			return nil, err
		}
		if eventType == EventPaymentCompleted {
			return []sideEffect{{
				userID: created.UserID, courseID: created.CourseID,
				source: models.SourceTransaction, sourceID: created.ID,
			}}, nil
		}
		return nil, nil
	}

	switch eventType {
	case EventPaymentCompleted:
		updated, err := s.ledger.MarkCompleted(ctx, txn.ID, data.TransactionID)
		if err != nil {
			return nil, err
		}
		return []sideEffect{{
			userID: updated.UserID, courseID: updated.CourseID,
			source: models.SourceTransaction, sourceID: updated.ID,
		}}, nil

	case EventPaymentFailed:
		_, err := s.ledger.MarkFailed(ctx, txn.ID, data.Reason)
		return nil, err

	default: // EventPaymentRefunded
		updated, err := s.ledger.MarkRefunded(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		return []sideEffect{{
			userID: updated.UserID, courseID: updated.CourseID,
			source: models.SourceTransaction, sourceID: updated.ID, revoke: true,
		}}, nil
	}
}

// createFromEvent writes a ledger row for a gateway-originated payment.
// Field validation mirrors the synchronous path: a bad amount or currency
// never reaches the ledger.
func (s *webhookService) createFromEvent(ctx context.Context, gatewayName, eventType string, data *paymentEventData) (*models.Transaction, error) {
	details := make(map[string]string)
	if data.Amount <= 0 {
		details["amount"] = "Must be greater than 0"
	}
	if !validator.IsRecognizedCurrency(data.Currency) {
		details["currency"] = "Must be a recognized 3-letter ISO currency code"
	}
	if data.CourseID == "" {
		details["course_id"] = "This field is required"
	}

	userID, err := s.resolveUser(data.UserID, data.CustomerEmail)
	if err != nil {
		details["user_id"] = "Unknown user"
	}
	if len(details) > 0 {
		return nil, appErrors.ValidationError(details)
	}

	status := models.TransactionStatusCompleted
	reason := ""
	if eventType == EventPaymentFailed {
		status = models.TransactionStatusFailed
		reason = data.Reason
	}

	meta, _ := json.Marshal(map[string]string{"customer_email": data.CustomerEmail})
	txn := &models.Transaction{
		UserID:        userID,
		AmountMinor:   MinorUnits(data.Amount),
		Currency:      normalizeCurrency(data.Currency),
		Gateway:       gatewayName,
		GatewayRef:    data.TransactionID,
		Status:        status,
		CourseID:      data.CourseID,
		FailureReason: reason,
		Metadata:      datatypes.JSON(meta),
	}
	if err := s.txnRepo.Create(txn); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "transaction created from webhook",
		"transaction_id", txn.ID, "gateway_ref", txn.GatewayRef, "status", txn.Status)
	return txn, nil
}

func (s *webhookService) applySubscription(ctx context.Context, gatewayName, eventType string, data *subscriptionEventData) ([]sideEffect, error) {
	unlock := s.locks.Lock("gwref:" + gatewayName + ":" + data.SubscriptionID)
	defer unlock()

	sub, err := s.subscriptions.FindByGatewayRef(ctx, gatewayName, data.SubscriptionID)
	if err != nil && !appErrors.Is(err, appErrors.ErrSubscriptionNotFound) {
		return nil, err
	}

	if sub == nil {
		if eventType != EventSubscriptionCreated {
			// Renew/cancel/etc. for a subscription the engine never saw is
			// a domain-level rejection, not a create.
			return nil, appErrors.ErrSubscriptionNotFound
		}
		return s.createSubscriptionFromEvent(ctx, gatewayName, data)
	}

	switch eventType {
	case EventSubscriptionCreated:
		// Replayed create for an existing reference: nothing to change.
		return nil, nil

	case EventSubscriptionRenewed:
		var next time.Time
		if data.NextPayment > 0 {
			next = time.Unix(data.NextPayment, 0)
		}
		renewed, err := s.subscriptions.Renew(ctx, sub.ID, next)
		if err != nil {
			return nil, err
		}
		return []sideEffect{{
			userID: renewed.UserID, courseID: renewed.CourseID,
			source: models.SourceSubscription, sourceID: renewed.ID,
		}}, nil

	case EventSubscriptionPaymentFailed:
		_, err := s.subscriptions.MarkPastDue(ctx, sub.ID)
		return nil, err

	case EventSubscriptionCancelled:
		cancelled, err := s.subscriptions.Cancel(ctx, sub.ID, data.Reason)
		if err != nil {
			return nil, err
		}
		return []sideEffect{{
			userID: cancelled.UserID, courseID: cancelled.CourseID,
			source: models.SourceSubscription, sourceID: cancelled.ID, revoke: true,
		}}, nil

	default: // EventSubscriptionReactivated
		reactivated, err := s.subscriptions.Reactivate(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		return []sideEffect{{
			userID: reactivated.UserID, courseID: reactivated.CourseID,
			source: models.SourceSubscription, sourceID: reactivated.ID,
		}}, nil
	}
}

func (s *webhookService) createSubscriptionFromEvent(ctx context.Context, gatewayName string, data *subscriptionEventData) ([]sideEffect, error) {
	userID, err := s.resolveUser(data.UserID, data.CustomerEmail)
	if err != nil {
		return nil, appErrors.ValidationError(map[string]string{"user_id": "Unknown user"})
	}

	interval := data.Interval
	if interval == "" {
		interval = string(models.IntervalMonthly)
	}

	created, err := s.subscriptions.Create(ctx, &CreateSubscriptionRequest{
		UserID:    userID,
		PlanID:    data.PlanID,
		CourseID:  data.CourseID,
		Amount:    data.Amount,
		Currency:  data.Currency,
		Interval:  interval,
		TrialDays: data.TrialDays,
		Gateway:   gatewayName,
		SubRef:    data.SubscriptionID,
	})
	if err != nil {
		return nil, err
	}

	return []sideEffect{{
		userID: created.UserID, courseID: created.CourseID,
		source: models.SourceSubscription, sourceID: created.ID,
	}}, nil
}

// resolveUser maps the event's custom user id, or the customer email, to an
// internal user.
func (s *webhookService) resolveUser(userID, email string) (string, error) {
	if userID != "" {
		user, err := s.userRepo.FindByID(userID)
		if err == nil {
			return user.ID, nil
		}
	}
	if email != "" {
		user, err := s.userRepo.FindByEmail(email)
		if err == nil {
			return user.ID, nil
		}
	}
	return "", repositories.ErrUserNotFound
}

func (s *webhookService) record(ctx context.Context, gatewayName string, event *gateways.Event, rawBody []byte, outcome models.WebhookOutcome, code appErrors.ErrorCode) {
	rec := &models.WebhookEvent{
		Gateway:   gatewayName,
		EventID:   event.ID,
		EventType: event.Type,
		Payload:   datatypes.JSON(rawBody),
		Outcome:   outcome,
		ErrorCode: string(code),
	}
	if err := s.eventRepo.Record(rec); err != nil {
		// A unique-index collision means a concurrent delivery won the
		// race; its record stands.
		logger.CtxWarn(ctx, "webhook event record not written", "event_id", event.ID, "error", err)
	}
}

func errorCode(err error) appErrors.ErrorCode {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return appErrors.CodeInternalError
}

// isDomainRejection distinguishes outcomes the event itself caused from
// failures of this service. Only the former may be recorded as terminal.
func isDomainRejection(err error) bool {
	var appErr *appErrors.AppError
	return errors.As(err, &appErr) && appErr.HTTPCode < http.StatusInternalServerError
}

// rejectionReplay rebuilds the response a rejected event originally got, so
// redeliveries surface the same code without touching the domain.
func rejectionReplay(prior *models.WebhookEvent) *appErrors.AppError {
	code := appErrors.ErrorCode(prior.ErrorCode)
	if code == "" {
		code = appErrors.CodeParseError
	}
	return appErrors.New(code, "Event previously rejected", http.StatusBadRequest).
		WithDetails(map[string]string{"event_id": prior.EventID})
}
