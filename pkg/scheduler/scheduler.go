// Package scheduler queues a safety check for every open work order on a timer and prunes expired
// requests.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	appctx "github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/intake"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// PromptPrefix starts every scheduled prompt
const PromptPrefix = "Perform weather safety and hazard safety checks for WorkOrder :"

// ErrBatchRunning is returned when this process is already running a batch
var ErrBatchRunning = errors.New("a scheduled batch is already running")

// Locker guards jobs so only one replica runs them
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Config controls the scheduled jobs
type Config struct {
	BatchCron        string
	PruneCron        string
	ThrottleInterval time.Duration
	SkipStatuses     []string
	RequestTTL       time.Duration
	// LockTTL is how long a crashed replica keeps the job lock. A live holder keeps refreshing it.
	LockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchCron == "" {
		c.BatchCron = "15 11 * * *"
	}
	if c.PruneCron == "" {
		c.PruneCron = "@hourly"
	}
	if c.SkipStatuses == nil {
		c.SkipStatuses = []string{"Completed", "Closed", "Cancelled"}
	}
	if c.RequestTTL <= 0 {
		c.RequestTTL = 7 * 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	return c
}

// Deps are the stores and lock the scheduler works with
type Deps struct {
	WorkOrders repositories.WorkOrderRepo
	Locations  repositories.LocationRepo
	Requests   repositories.SafetyCheckRequestRepo
	Locker     Locker
}

// BatchResult summarizes one batch
type BatchResult struct {
	Queued     int         `json:"queued"`
	Skipped    int         `json:"skipped"`
	RequestIDs []uuid.UUID `json:"requestIds"`
}

// Scheduler runs the batch and prune jobs
type Scheduler struct {
	deps    Deps
	cfg     Config
	cron    *cron.Cron
	limiter *rate.Limiter
	skip    map[string]bool
	logger  ectologger.Logger

	rng     *rand.Rand
	now     func() time.Time
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a new Scheduler
func New(deps Deps, cfg Config, logger ectologger.Logger) *Scheduler {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.ThrottleInterval > 0 {
		limit = rate.Every(cfg.ThrottleInterval)
	}

	skip := make(map[string]bool, len(cfg.SkipStatuses))
	for _, status := range cfg.SkipStatuses {
		skip[strings.ToLower(strings.TrimSpace(status))] = true
	}

	return &Scheduler{
		deps:    deps,
		cfg:     cfg,
		cron:    cron.New(),
		limiter: rate.NewLimiter(limit, 1),
		skip:    skip,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// Start registers the cron jobs and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	jobCtx := appctx.SetTriggerSource(context.WithoutCancel(ctx), "cron")

	if _, err := s.cron.AddFunc(s.cfg.BatchCron, func() {
		if _, err := s.RunBatch(jobCtx); err != nil {
			s.logJobError(jobCtx, "batch", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid batch schedule %q: %w", s.cfg.BatchCron, err)
	}

	if _, err := s.cron.AddFunc(s.cfg.PruneCron, func() {
		if _, err := s.Prune(jobCtx); err != nil {
			s.logJobError(jobCtx, "prune", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.cfg.PruneCron, err)
	}

	s.cron.Start()
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_cron": s.cfg.BatchCron,
		"prune_cron": s.cfg.PruneCron,
	}).Info("Scheduler started")
	return nil
}

// Stop stops the cron runner and waits for running jobs, including manual triggers
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) logJobError(ctx context.Context, job string, err error) {
	log := s.logger.WithContext(ctx).WithError(err).WithFields(appctx.LogFields(ctx)).WithField("job", job)
	if errors.Is(err, redis.ErrLockNotAcquired) || errors.Is(err, ErrBatchRunning) {
		log.Info("Scheduled job is running elsewhere, skipping")
		return
	}
	log.Error("Scheduled job failed")
}

// Trigger starts a batch in the background. It returns false when a batch is already running here.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if s.running.Load() {
		return false
	}
	jobCtx := appctx.SetTriggerSource(context.WithoutCancel(ctx), "manual")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunBatch(jobCtx); err != nil {
			s.logJobError(jobCtx, "batch", err)
		}
	}()
	return true
}

// RunBatch queues a SCHEDULED request for every open work order and moves its schedule window.
// The first error aborts the rest of the run; requests queued before it stay queued.
func (s *Scheduler) RunBatch(ctx context.Context) (*BatchResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBatchRunning
	}
	defer s.running.Store(false)

	result := &BatchResult{}
	err := s.deps.Locker.WithLock(ctx, "scheduler:batch", s.cfg.LockTTL, func(ctx context.Context) error {
		return s.runBatch(ctx, result)
	})

	switch {
	case err == nil:
		metrics.SchedulerRuns.WithLabelValues("success").Inc()
	case errors.Is(err, redis.ErrLockNotAcquired):
		metrics.SchedulerRuns.WithLabelValues("locked").Inc()
	default:
		metrics.SchedulerRuns.WithLabelValues("error").Inc()
	}
	return result, err
}

func (s *Scheduler) runBatch(ctx context.Context, result *BatchResult) error {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunBatch")
	defer span.End()

	log := s.logger.WithContext(ctx)

	workOrders, err := s.deps.WorkOrders.List(ctx)
	if err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to list work orders: %w", err), "failed to list work orders")
	}
	locations, err := s.deps.Locations.List(ctx)
	if err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to list locations: %w", err), "failed to list locations")
	}

	byName := make(map[string]models.Location, len(locations))
	for _, loc := range locations {
		byName[loc.LocationName] = loc
	}

	log.Infof("Starting scheduled safety checks for %d work orders", len(workOrders))

	for _, wo := range workOrders {
		if s.skip[strings.ToLower(wo.Status)] {
			result.Skipped++
			metrics.SchedulerWorkOrders.WithLabelValues("skipped").Inc()
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		var location *models.Location
		if loc, ok := byName[wo.LocationName]; ok {
			location = &loc
		}

		requestID, err := s.queue(ctx, wo, location)
		if err != nil {
			metrics.SchedulerWorkOrders.WithLabelValues("error").Inc()
			return tracing.Fail(span, fmt.Errorf("work order %s: %w", wo.WorkOrderID, err), "scheduled safety check failed")
		}
		result.Queued++
		result.RequestIDs = append(result.RequestIDs, requestID)
		metrics.SchedulerWorkOrders.WithLabelValues("queued").Inc()
	}

	span.SetAttributes(attribute.Int("queued", result.Queued), attribute.Int("skipped", result.Skipped))
	log.WithFields(map[string]any{
		"queued":  result.Queued,
		"skipped": result.Skipped,
	}).Info("Scheduled safety checks queued")
	return nil
}

func (s *Scheduler) queue(ctx context.Context, wo models.WorkOrder, location *models.Location) (uuid.UUID, error) {
	wo.LocationDetails = location
	payload, err := Prompt(wo)
	if err != nil {
		return uuid.Nil, err
	}

	now := s.now()
	request := models.NewSafetyCheckRequest(wo.WorkOrderID, payload, models.RequestSourceScheduled, now, s.cfg.RequestTTL)
	if err := s.deps.Requests.Create(ctx, request); err != nil {
		metrics.RequestsSubmitted.WithLabelValues(string(models.RequestSourceScheduled), "error").Inc()
		return uuid.Nil, err
	}
	metrics.RequestsSubmitted.WithLabelValues(string(models.RequestSourceScheduled), "queued").Inc()

	start, finish := Window(now, s.rng)
	if err := s.deps.WorkOrders.UpdateSchedule(ctx, wo.WorkOrderID, start, finish); err != nil {
		return uuid.Nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"work_order_id":   wo.WorkOrderID,
		"safety_check_id": request.RequestID.String(),
		"start":           start,
		"finish":          finish,
	}).Debug("Queued scheduled safety check")
	return request.RequestID, nil
}

// Prompt builds the scheduled prompt for a work order with its location attached
func Prompt(wo models.WorkOrder) (string, error) {
	value, err := intake.ToJSONValue(wo)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(intake.StripStale(value))
	if err != nil {
		return "", err
	}
	return PromptPrefix + string(data), nil
}

// Window picks the next schedule for a work order: an hour-aligned start in [now+1d, now+2d) and a
// finish 4 to 7 hours later.
func Window(now time.Time, rng *rand.Rand) (time.Time, time.Time) {
	now = now.UTC()
	first := now.Add(24 * time.Hour).Truncate(time.Hour)
	if first.Before(now.Add(24 * time.Hour)) {
		first = first.Add(time.Hour)
	}

	start := first.Add(time.Duration(rng.Intn(24)) * time.Hour)
	finish := start.Add(time.Duration(4+rng.Intn(4)) * time.Hour)
	return start, finish
}

// Prune deletes requests whose ttl has passed
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.deps.Locker.WithLock(ctx, "scheduler:prune", s.cfg.LockTTL, func(ctx context.Context) error {
		ctx, span := tracing.StartSpan(ctx, "Scheduler.Prune")
		defer span.End()

		n, err := s.deps.Requests.DeleteExpired(ctx, s.now())
		if err != nil {
			return tracing.Fail(span, err, "failed to prune expired requests")
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RequestsPruned.Add(float64(deleted))
	if deleted > 0 {
		s.logger.WithContext(ctx).Infof("Pruned %d expired safety check requests", deleted)
	}
	return deleted, nil
}
