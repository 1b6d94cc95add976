package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skylearn_backend/internal/lms"
	"skylearn_backend/internal/logger"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
)

// Dispatcher accepts committed billing changes and turns them into LMS
// access calls. Delivery is at-least-once; the grant record dedupes.
type Dispatcher interface {
	DispatchGrant(userID, courseID, sourceType, sourceID string)
	DispatchRevoke(userID, courseID, sourceType, sourceID string)
	FailedGrants(page, perPage int) ([]models.EnrollmentGrant, int64, error)
}

// DispatcherConfig bounds the retry behavior.
type DispatcherConfig struct {
	Workers       int
	MaxAttempts   int
	BaseBackoff   time.Duration
	QueueSize     int
	SweepInterval time.Duration
}

// sweepBatchSize caps how many pending grants one sweep pass requeues.
const sweepBatchSize = 100

// EnrollmentDispatcher runs a worker pool draining a buffered queue of grant
// ids. Backoff is exponential (base * 2^attempt) and only transient LMS
// failures are retried. A periodic sweep requeues grants still pending,
// covering restarts, a full queue, and deliveries lost mid-flight.
type EnrollmentDispatcher struct {
	repo   repositories.EnrollmentRepository
	client lms.Client
	cfg    DispatcherConfig

	queue  chan string
	stopCh chan struct{}
	group  *errgroup.Group
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewEnrollmentDispatcher(repo repositories.EnrollmentRepository, client lms.Client, cfg DispatcherConfig) *EnrollmentDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	return &EnrollmentDispatcher{
		repo:   repo,
		client: client,
		cfg:    cfg,
		queue:  make(chan string, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (d *EnrollmentDispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case grantID, ok := <-d.queue:
					if !ok {
						return nil
					}
					d.process(ctx, grantID)
				}
			}
		})
	}

	// The sweep requeues grants still pending: rows from before a restart,
	// dispatches dropped on a full queue, and work lost mid-flight.
	d.group.Go(func() error {
		ticker := time.NewTicker(d.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-d.stopCh:
				return nil
			case <-ticker.C:
				d.sweep(ctx)
			}
		}
	})
}

// Stop drains queued work and waits for the workers. Producers that race
// Stop leave their grant pending; the next start's sweep picks it up.
func (d *EnrollmentDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.stopCh)
	close(d.queue)
	d.mu.Unlock()

	if d.group != nil {
		_ = d.group.Wait()
	}
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *EnrollmentDispatcher) DispatchGrant(userID, courseID, sourceType, sourceID string) {
	d.enqueue(userID, courseID, sourceType, sourceID, false)
}

func (d *EnrollmentDispatcher) DispatchRevoke(userID, courseID, sourceType, sourceID string) {
	d.enqueue(userID, courseID, sourceType, sourceID, true)
}

func (d *EnrollmentDispatcher) FailedGrants(page, perPage int) ([]models.EnrollmentGrant, int64, error) {
	return d.repo.ListFailed(page, perPage)
}

func (d *EnrollmentDispatcher) enqueue(userID, courseID, sourceType, sourceID string, revoke bool) {
	grant := &models.EnrollmentGrant{
		UserID:     userID,
		CourseID:   courseID,
		SourceType: sourceType,
		SourceID:   sourceID,
		Revoke:     revoke,
		Status:     models.GrantStatusPending,
	}

	created, err := d.repo.FindOrCreate(grant)
	if err != nil {
		logger.Error("failed to persist enrollment grant", "error", err,
			"user_id", userID, "course_id", courseID, "source_id", sourceID)
		return
	}

	// Redispatching a terminal-success grant would double work at the LMS
	// boundary. Failed grants stay in the failure queue until an operator
	// requeues them.
	if !created && (grant.Status == models.GrantStatusGranted || grant.Status == models.GrantStatusRevoked) {
		return
	}

	d.send(grant.ID)
}

// send offers a grant id to the workers without ever blocking a caller. The
// grant row is already persisted as pending, so a dropped send is recovered
// by the sweep rather than lost.
func (d *EnrollmentDispatcher) send(grantID string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logger.Warn("dispatcher stopped, grant left pending", "grant_id", grantID)
		return
	}

	select {
	case d.queue <- grantID:
	default:
		logger.Warn("enrollment queue full, grant left pending until sweep", "grant_id", grantID)
	}
}

func (d *EnrollmentDispatcher) sweep(ctx context.Context) {
	pending, err := d.repo.ListPending(sweepBatchSize)
	if err != nil {
		logger.Error("pending grant sweep failed", "error", err)
		return
	}

	for i := range pending {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.send(pending[i].ID)
	}
}

func (d *EnrollmentDispatcher) process(ctx context.Context, grantID string) {
	grant, err := d.repo.FindByID(grantID)
	if err != nil {
		logger.Error("enrollment grant vanished from queue", "error", err, "grant_id", grantID)
		return
	}
	if grant.Status == models.GrantStatusGranted || grant.Status == models.GrantStatusRevoked {
		return
	}

	attempts := 0
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := d.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		attempts++
		err = d.deliver(ctx, grant)
		if err == nil {
			if grant.Revoke {
				grant.Status = models.GrantStatusRevoked
			} else {
				grant.Status = models.GrantStatusGranted
			}
			grant.Attempts += attempts
			grant.LastError = ""
			if updateErr := d.repo.Update(grant); updateErr != nil {
				logger.Error("failed to record grant success", "error", updateErr, "grant_id", grant.ID)
			}
			logger.Info("enrollment dispatched",
				"grant_id", grant.ID, "user_id", grant.UserID, "course_id", grant.CourseID, "revoke", grant.Revoke)
			return
		}

		if lms.IsPermanent(err) {
			break
		}
	}

	grant.Status = models.GrantStatusFailed
	grant.Attempts += attempts
	grant.LastError = err.Error()
	if updateErr := d.repo.Update(grant); updateErr != nil {
		logger.Error("failed to record grant failure", "error", updateErr, "grant_id", grant.ID)
	}
	logger.Error("enrollment dispatch failed",
		"grant_id", grant.ID, "user_id", grant.UserID, "course_id", grant.CourseID, "error", err)
}

func (d *EnrollmentDispatcher) deliver(ctx context.Context, grant *models.EnrollmentGrant) error {
	if grant.Revoke {
		return d.client.RevokeAccess(ctx, grant.UserID, grant.CourseID)
	}
	return d.client.GrantAccess(ctx, grant.UserID, grant.CourseID)
}
