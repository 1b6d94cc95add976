package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"skylearn_backend/internal/gateways"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
)

// In-memory fakes for the repository and boundary interfaces. Each fake is
// safe for concurrent use so dispatcher tests can exercise the worker pool.

type fakeTxnRepo struct {
	mu sync.Mutex
	// failUpdates makes the next N Update calls fail, simulating a flaky
	// database.
	failUpdates int
	txns        map[string]*models.Transaction
}

func newFakeTxnRepo() *fakeTxnRepo {
	return &fakeTxnRepo{txns: make(map[string]*models.Transaction)}
}

func (r *fakeTxnRepo) Create(txn *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	txn.CreatedAt = time.Now()
	cp := *txn
	r.txns[txn.ID] = &cp
	return nil
}

func (r *fakeTxnRepo) FindByID(id string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[id]
	if !ok {
		return nil, repositories.ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (r *fakeTxnRepo) FindByGatewayRef(gateway, ref string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.txns {
		if txn.Gateway == gateway && txn.GatewayRef == ref {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, repositories.ErrTransactionNotFound
}

func (r *fakeTxnRepo) Update(txn *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates > 0 {
		r.failUpdates--
		return errors.New("connection reset by peer")
	}
	cp := *txn
	r.txns[txn.ID] = &cp
	return nil
}

func (r *fakeTxnRepo) List(filter repositories.TransactionFilter, page, perPage int) ([]models.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for _, txn := range r.txns {
		if filter.UserID != "" && txn.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		out = append(out, *txn)
	}
	return out, int64(len(out)), nil
}

type fakeSubRepo struct {
	mu   sync.Mutex
	subs map[string]*models.Subscription
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: make(map[string]*models.Subscription)}
}

func (r *fakeSubRepo) Create(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.CreatedAt = time.Now()
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *fakeSubRepo) FindByID(id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, repositories.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeSubRepo) FindByGatewaySubRef(gateway, ref string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.Gateway == gateway && sub.GatewaySubRef == ref {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, repositories.ErrSubscriptionNotFound
}

func (r *fakeSubRepo) Update(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *fakeSubRepo) List(userID string, page, perPage int) ([]models.Subscription, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if userID != "" && sub.UserID != userID {
			continue
		}
		out = append(out, *sub)
	}
	return out, int64(len(out)), nil
}

func (r *fakeSubRepo) FindDueForRenewal(now time.Time, limit int) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if len(out) >= limit {
			break
		}
		due := sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusTrialing
		if due && !sub.NextPayment.After(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) FindByID(id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) FindByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]*models.WebhookEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]*models.WebhookEvent)}
}

func (r *fakeEventRepo) Find(gateway, eventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[gateway+"|"+eventID]
	if !ok {
		return nil, repositories.ErrWebhookEventNotFound
	}
	cp := *event
	return &cp, nil
}

func (r *fakeEventRepo) Record(event *models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	cp := *event
	r.events[event.Gateway+"|"+event.EventID] = &cp
	return nil
}

func (r *fakeEventRepo) MarkDuplicate(gateway, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[gateway+"|"+eventID]
	if ok && event.Outcome == models.WebhookOutcomeAccepted {
		event.Outcome = models.WebhookOutcomeDuplicate
	}
	return nil
}

type fakeEnrollmentRepo struct {
	mu     sync.Mutex
	grants map[string]*models.EnrollmentGrant
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{grants: make(map[string]*models.EnrollmentGrant)}
}

func (r *fakeEnrollmentRepo) FindOrCreate(grant *models.EnrollmentGrant) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.grants {
		if existing.UserID == grant.UserID &&
			existing.CourseID == grant.CourseID &&
			existing.SourceID == grant.SourceID &&
			existing.Revoke == grant.Revoke {
			*grant = *existing
			return false, nil
		}
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	cp := *grant
	r.grants[grant.ID] = &cp
	return true, nil
}

func (r *fakeEnrollmentRepo) Update(grant *models.EnrollmentGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *grant
	r.grants[grant.ID] = &cp
	return nil
}

func (r *fakeEnrollmentRepo) FindByID(id string) (*models.EnrollmentGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	grant, ok := r.grants[id]
	if !ok {
		return nil, repositories.ErrGrantNotFound
	}
	cp := *grant
	return &cp, nil
}

func (r *fakeEnrollmentRepo) ListFailed(page, perPage int) ([]models.EnrollmentGrant, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EnrollmentGrant
	for _, grant := range r.grants {
		if grant.Status == models.GrantStatusFailed {
			out = append(out, *grant)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeEnrollmentRepo) ListPending(limit int) ([]models.EnrollmentGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EnrollmentGrant
	for _, grant := range r.grants {
		if len(out) >= limit {
			break
		}
		if grant.Status == models.GrantStatusPending {
			out = append(out, *grant)
		}
	}
	return out, nil
}

func (r *fakeEnrollmentRepo) get(id string) *models.EnrollmentGrant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grants[id]
}

// fakeGateway lets each test script the provider's behavior.
type fakeGateway struct {
	name       string
	chargeFn   func(ctx context.Context, req gateways.ChargeRequest) (*gateways.ChargeResult, error)
	refundFn   func(ctx context.Context, ref string) error
	cancelFn   func(ctx context.Context, ref string) error
	verifyFn   func(rawBody []byte, sig, secret string) bool
	parseFn    func(rawBody []byte) (*gateways.Event, error)
	mu         sync.Mutex
	chargeReqs []gateways.ChargeRequest
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Charge(ctx context.Context, req gateways.ChargeRequest) (*gateways.ChargeResult, error) {
	g.mu.Lock()
	g.chargeReqs = append(g.chargeReqs, req)
	g.mu.Unlock()
	if g.chargeFn != nil {
		return g.chargeFn(ctx, req)
	}
	return &gateways.ChargeResult{GatewayRef: "ref-" + uuid.NewString()[:8]}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, ref string) error {
	if g.refundFn != nil {
		return g.refundFn(ctx, ref)
	}
	return nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, ref string) error {
	if g.cancelFn != nil {
		return g.cancelFn(ctx, ref)
	}
	return nil
}

func (g *fakeGateway) VerifyWebhookSignature(rawBody []byte, sig, secret string) bool {
	if g.verifyFn != nil {
		return g.verifyFn(rawBody, sig, secret)
	}
	return true
}

func (g *fakeGateway) ParseEvent(rawBody []byte) (*gateways.Event, error) {
	if g.parseFn != nil {
		return g.parseFn(rawBody)
	}
	var event gateways.Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, &gateways.ParseError{Reason: err.Error()}
	}
	return &event, nil
}

// recordingDispatcher captures dispatch calls without running workers.
type recordingDispatcher struct {
	mu      sync.Mutex
	grants  []string
	revokes []string
}

func (d *recordingDispatcher) DispatchGrant(userID, courseID, sourceType, sourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grants = append(d.grants, sourceID)
}

func (d *recordingDispatcher) DispatchRevoke(userID, courseID, sourceType, sourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revokes = append(d.revokes, sourceID)
}

func (d *recordingDispatcher) FailedGrants(page, perPage int) ([]models.EnrollmentGrant, int64, error) {
	return nil, 0, nil
}

// fakeLMS scripts the enrollment boundary.
type fakeLMS struct {
	mu       sync.Mutex
	grantFn  func(ctx context.Context, userID, courseID string) error
	revokeFn func(ctx context.Context, userID, courseID string) error
	grantLog []string
}

func (c *fakeLMS) GrantAccess(ctx context.Context, userID, courseID string) error {
	c.mu.Lock()
	c.grantLog = append(c.grantLog, userID+"/"+courseID)
	c.mu.Unlock()
	if c.grantFn != nil {
		return c.grantFn(ctx, userID, courseID)
	}
	return nil
}

func (c *fakeLMS) RevokeAccess(ctx context.Context, userID, courseID string) error {
	if c.revokeFn != nil {
		return c.revokeFn(ctx, userID, courseID)
	}
	return nil
}

func (c *fakeLMS) grantCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.grantLog)
}
