package workers

import (
	"context"
	"time"

	"skylearn_backend/internal/gateways"
	"skylearn_backend/internal/logger"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
	"skylearn_backend/internal/services"
)

const renewalBatchSize = 50

// RenewalWorker periodically scans for subscriptions whose next_payment has
// passed and charges them. Webhook-driven renewals normally land first; the
// scan is the fallback for providers that expect merchant-initiated charges
// and for deliveries that never arrived.
type RenewalWorker struct {
	subRepo       repositories.SubscriptionRepository
	txnRepo       repositories.TransactionRepository
	subscriptions services.SubscriptionService
	dispatcher    services.Dispatcher
	gateways      map[string]gateways.Gateway
	interval      time.Duration
	cancel        context.CancelFunc
	done          chan struct{}
	now           func() time.Time
}

func NewRenewalWorker(
	subRepo repositories.SubscriptionRepository,
	txnRepo repositories.TransactionRepository,
	subscriptions services.SubscriptionService,
	dispatcher services.Dispatcher,
	gatewayMap map[string]gateways.Gateway,
	scanInterval time.Duration,
) *RenewalWorker {
	return &RenewalWorker{
		subRepo:       subRepo,
		txnRepo:       txnRepo,
		subscriptions: subscriptions,
		dispatcher:    dispatcher,
		gateways:      gatewayMap,
		interval:      scanInterval,
		done:          make(chan struct{}),
		now:           time.Now,
	}
}

func (w *RenewalWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

func (w *RenewalWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *RenewalWorker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan processes one batch of due subscriptions. Exported so an operator
// endpoint or test can trigger a pass directly.
func (w *RenewalWorker) Scan(ctx context.Context) {
	due, err := w.subRepo.FindDueForRenewal(w.now(), renewalBatchSize)
	if err != nil {
		logger.CtxWithError(ctx, "renewal scan failed", err)
		return
	}

	for i := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.renew(ctx, &due[i])
	}
}

func (w *RenewalWorker) renew(ctx context.Context, sub *models.Subscription) {
	gw, ok := w.gateways[sub.Gateway]
	if !ok {
		logger.CtxError(ctx, "renewal skipped: unknown gateway",
			"subscription_id", sub.ID, "gateway", sub.Gateway)
		return
	}

	// The charge happens outside any entity lock; only the resulting state
	// transition serializes.
	result, err := gw.Charge(ctx, gateways.ChargeRequest{
		AmountMinor:      sub.AmountMinor,
		Currency:         sub.Currency,
		PaymentMethodRef: sub.GatewaySubRef,
		Metadata:         map[string]string{"subscription_id": sub.ID},
	})
	if err != nil {
		logger.CtxWithError(ctx, "renewal charge failed", err, "subscription_id", sub.ID)
		if _, pdErr := w.subscriptions.MarkPastDue(ctx, sub.ID); pdErr != nil {
			// Trialing subscriptions cannot go past_due; the next scan or a
			// provider webhook picks them up.
			logger.CtxWarn(ctx, "past_due transition rejected",
				"subscription_id", sub.ID, "error", pdErr.Error())
		}
		return
	}

	renewed, err := w.subscriptions.Renew(ctx, sub.ID, time.Time{})
	if err != nil {
		logger.CtxWithError(ctx, "renewal transition failed", err, "subscription_id", sub.ID)
		return
	}

	txn := &models.Transaction{
		UserID:      renewed.UserID,
		AmountMinor: renewed.AmountMinor,
		Currency:    renewed.Currency,
		Gateway:     renewed.Gateway,
		GatewayRef:  result.GatewayRef,
		Status:      models.TransactionStatusCompleted,
		CourseID:    renewed.CourseID,
	}
	if err := w.txnRepo.Create(txn); err != nil {
		logger.CtxWithError(ctx, "renewal ledger write failed", err,
			"subscription_id", renewed.ID, "gateway_ref", result.GatewayRef)
	}

	w.dispatcher.DispatchGrant(renewed.UserID, renewed.CourseID, models.SourceSubscription, renewed.ID)

	logger.CtxInfo(ctx, "subscription renewed by worker",
		"subscription_id", renewed.ID, "next_payment", renewed.NextPayment)
}
