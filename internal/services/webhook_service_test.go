package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/gateways"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
)

type webhookFixture struct {
	service    WebhookService
	txnRepo    *fakeTxnRepo
	subRepo    *fakeSubRepo
	eventRepo  *fakeEventRepo
	gateway    *fakeGateway
	dispatcher *recordingDispatcher
	user       *models.User
}

func newWebhookFixture() *webhookFixture {
	user := &models.User{
		BaseModel: models.BaseModel{ID: uuid.NewString()},
		Email:     "student@example.com",
		Role:      models.UserRoleMember,
		Status:    models.UserStatusActive,
	}
	txnRepo := newFakeTxnRepo()
	subRepo := newFakeSubRepo()
	eventRepo := newFakeEventRepo()
	userRepo := newFakeUserRepo(user)
	gateway := newFakeGateway("lemon_squeezy")
	gatewayMap := map[string]gateways.Gateway{gateway.Name(): gateway}
	locks := repositories.NewLockManager()
	dispatcher := &recordingDispatcher{}

	ledger := NewLedgerService(txnRepo, userRepo, gatewayMap, locks, dispatcher)
	subscriptions := NewSubscriptionService(subRepo, userRepo, gatewayMap, locks)

	service := NewWebhookService(
		gatewayMap,
		map[string]string{gateway.Name(): "whsec_test"},
		eventRepo, txnRepo, userRepo,
		ledger, subscriptions, locks, dispatcher,
	)

	return &webhookFixture{
		service:    service,
		txnRepo:    txnRepo,
		subRepo:    subRepo,
		eventRepo:  eventRepo,
		gateway:    gateway,
		dispatcher: dispatcher,
		user:       user,
	}
}

func (f *webhookFixture) deliver(t *testing.T, body string) (*WebhookResult, error) {
	t.Helper()
	return f.service.Process(context.Background(), "lemon_squeezy", []byte(body), "sig")
}

func paymentCompletedBody(eventID, ref, email string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"event": "payment.completed",
		"data": {
			"transaction_id": %q,
			"amount": 99.99,
			"currency": "USD",
			"course_id": "course-101",
			"customer_email": %q
		}
	}`, eventID, ref, email)
}

func TestWebhook_UnknownGateway(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	_, err := f.service.Process(context.Background(), "stripe", []byte(`{}`), "sig")
	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeNotFound, appErr.Code)
}

func TestWebhook_InvalidSignatureLeavesNoRecord(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()
	f.gateway.verifyFn = func(rawBody []byte, sig, secret string) bool { return false }

	body := paymentCompletedBody("evt_forged", "order-1", "student@example.com")
	_, err := f.deliver(t, body)

	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeSignatureInvalid, appErr.Code)

	// A forged request must not burn the idempotency slot for that id.
	_, findErr := f.eventRepo.Find("lemon_squeezy", "evt_forged")
	assert.ErrorIs(t, findErr, repositories.ErrWebhookEventNotFound)
}

func TestWebhook_PaymentCompletedCreatesTransaction(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	result, err := f.deliver(t, paymentCompletedBody("evt_1", "order-1", "student@example.com"))
	require.NoError(t, err)
	assert.True(t, result.Received)
	assert.True(t, result.Processed)

	txn, err := f.txnRepo.FindByGatewayRef("lemon_squeezy", "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, int64(9999), txn.AmountMinor)
	assert.Equal(t, f.user.ID, txn.UserID)
	assert.Equal(t, []string{txn.ID}, f.dispatcher.grants)

	rec, err := f.eventRepo.Find("lemon_squeezy", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeAccepted, rec.Outcome)
}

func TestWebhook_DuplicateDeliveryDoesNotReprocess(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()
	body := paymentCompletedBody("evt_1", "order-1", "student@example.com")

	_, err := f.deliver(t, body)
	require.NoError(t, err)

	replay, err := f.deliver(t, body)
	require.NoError(t, err)
	assert.True(t, replay.Processed)

	// One transaction, one grant, regardless of redeliveries.
	txns, _, _ := f.txnRepo.List(repositories.TransactionFilter{}, 1, 10)
	assert.Len(t, txns, 1)
	assert.Len(t, f.dispatcher.grants, 1)

	// The redelivery flips the stored outcome to duplicate.
	rec, findErr := f.eventRepo.Find("lemon_squeezy", "evt_1")
	require.NoError(t, findErr)
	assert.Equal(t, models.WebhookOutcomeDuplicate, rec.Outcome)
}

func TestWebhook_TransientFailureLeavesNoRecordSoRetrySucceeds(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	require.NoError(t, f.txnRepo.Create(&models.Transaction{
		UserID:      f.user.ID,
		AmountMinor: 9999,
		Currency:    "USD",
		Gateway:     "lemon_squeezy",
		GatewayRef:  "order-1",
		Status:      models.TransactionStatusPending,
		CourseID:    "course-101",
	}))
	f.txnRepo.failUpdates = 1

	body := paymentCompletedBody("evt_flaky", "order-1", "student@example.com")

	_, err := f.deliver(t, body)
	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeDatabaseError, appErr.Code)

	// An internal failure must not burn the idempotency slot.
	_, findErr := f.eventRepo.Find("lemon_squeezy", "evt_flaky")
	assert.ErrorIs(t, findErr, repositories.ErrWebhookEventNotFound)

	// The gateway's retry reprocesses the event once the store recovers.
	result, err := f.deliver(t, body)
	require.NoError(t, err)
	assert.True(t, result.Processed)

	txn, err := f.txnRepo.FindByGatewayRef("lemon_squeezy", "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)

	rec, err := f.eventRepo.Find("lemon_squeezy", "evt_flaky")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeAccepted, rec.Outcome)
}

func TestWebhook_RejectedReplayKeepsOriginalCode(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	body := `{"id":"evt_r2","event":"payment.refunded","data":{"transaction_id":"order-missing"}}`
	_, err := f.deliver(t, body)
	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeNotFound, appErr.Code)

	// The redelivery surfaces the recorded rejection, not a parse error.
	_, err = f.deliver(t, body)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeNotFound, appErr.Code)

	rec, findErr := f.eventRepo.Find("lemon_squeezy", "evt_r2")
	require.NoError(t, findErr)
	assert.Equal(t, models.WebhookOutcomeRejected, rec.Outcome)
}

func TestWebhook_MalformedPayloadWithIDRecordedOnce(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()
	f.gateway.parseFn = func(rawBody []byte) (*gateways.Event, error) {
		return &gateways.Event{ID: "evt_bad"}, &gateways.ParseError{Reason: "missing required fields", Missing: []string{"event"}}
	}

	_, err := f.deliver(t, `{"id":"evt_bad"}`)
	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeParseError, appErr.Code)

	rec, findErr := f.eventRepo.Find("lemon_squeezy", "evt_bad")
	require.NoError(t, findErr)
	assert.Equal(t, models.WebhookOutcomeRejected, rec.Outcome)
	assert.Equal(t, string(appErrors.CodeParseError), rec.ErrorCode)
}

func TestWebhook_RefundForUnknownTransactionRejected(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	body := `{"id":"evt_r1","event":"payment.refunded","data":{"transaction_id":"order-missing"}}`
	_, err := f.deliver(t, body)

	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeNotFound, appErr.Code)

	rec, findErr := f.eventRepo.Find("lemon_squeezy", "evt_r1")
	require.NoError(t, findErr)
	assert.Equal(t, models.WebhookOutcomeRejected, rec.Outcome)
}

func TestWebhook_PaymentRefundedRevokesAccess(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	_, err := f.deliver(t, paymentCompletedBody("evt_1", "order-1", "student@example.com"))
	require.NoError(t, err)

	body := `{"id":"evt_2","event":"payment.refunded","data":{"transaction_id":"order-1"}}`
	result, err := f.deliver(t, body)
	require.NoError(t, err)
	assert.True(t, result.Processed)

	txn, _ := f.txnRepo.FindByGatewayRef("lemon_squeezy", "order-1")
	assert.Equal(t, models.TransactionStatusRefunded, txn.Status)
	assert.Equal(t, []string{txn.ID}, f.dispatcher.revokes)
}

func subscriptionEventBody(eventID, eventType, subRef, email string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"event": %q,
		"data": {
			"subscription_id": %q,
			"plan": "pro-monthly",
			"course_id": "course-101",
			"amount": 19.99,
			"currency": "USD",
			"interval": "monthly",
			"customer_email": %q
		}
	}`, eventID, eventType, subRef, email)
}

func TestWebhook_SubscriptionLifecycle(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	// created
	_, err := f.deliver(t, subscriptionEventBody("evt_s1", "subscription.created", "ls-sub-1", "student@example.com"))
	require.NoError(t, err)

	sub, err := f.subRepo.FindByGatewaySubRef("lemon_squeezy", "ls-sub-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, []string{sub.ID}, f.dispatcher.grants)

	// payment_failed -> past_due
	_, err = f.deliver(t, subscriptionEventBody("evt_s2", "subscription.payment_failed", "ls-sub-1", ""))
	require.NoError(t, err)
	sub, _ = f.subRepo.FindByGatewaySubRef("lemon_squeezy", "ls-sub-1")
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)

	// renewed -> active again, grant redispatched
	_, err = f.deliver(t, subscriptionEventBody("evt_s3", "subscription.renewed", "ls-sub-1", ""))
	require.NoError(t, err)
	sub, _ = f.subRepo.FindByGatewaySubRef("lemon_squeezy", "ls-sub-1")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Len(t, f.dispatcher.grants, 2)

	// cancelled -> revoke
	_, err = f.deliver(t, subscriptionEventBody("evt_s4", "subscription.cancelled", "ls-sub-1", ""))
	require.NoError(t, err)
	sub, _ = f.subRepo.FindByGatewaySubRef("lemon_squeezy", "ls-sub-1")
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.Len(t, f.dispatcher.revokes, 1)

	// a late renewal after the cancel is rejected, not applied
	_, err = f.deliver(t, subscriptionEventBody("evt_s5", "subscription.renewed", "ls-sub-1", ""))
	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeInvalidTransition, appErr.Code)

	sub, _ = f.subRepo.FindByGatewaySubRef("lemon_squeezy", "ls-sub-1")
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)

	// reactivated -> active
	_, err = f.deliver(t, subscriptionEventBody("evt_s6", "subscription.reactivated", "ls-sub-1", ""))
	require.NoError(t, err)
	sub, _ = f.subRepo.FindByGatewaySubRef("lemon_squeezy", "ls-sub-1")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestWebhook_RenewalForUnknownSubscriptionRejected(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	_, err := f.deliver(t, subscriptionEventBody("evt_x", "subscription.renewed", "ls-sub-missing", ""))
	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeNotFound, appErr.Code)
}

func TestWebhook_UnknownEventTypeRejected(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	body := `{"id":"evt_u1","event":"order.shipped","data":{}}`
	_, err := f.deliver(t, body)

	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeParseError, appErr.Code)

	rec, findErr := f.eventRepo.Find("lemon_squeezy", "evt_u1")
	require.NoError(t, findErr)
	assert.Equal(t, models.WebhookOutcomeRejected, rec.Outcome)
}

func TestWebhook_CompletedEventForUnresolvableUserRejected(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture()

	_, err := f.deliver(t, paymentCompletedBody("evt_n1", "order-9", "nobody@example.com"))
	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.CodeValidationFailed, appErr.Code)

	txns, _, _ := f.txnRepo.List(repositories.TransactionFilter{}, 1, 10)
	assert.Empty(t, txns)
}
