package application

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// SchedulerConfig configures the rotation scheduler.
type SchedulerConfig struct {
	Interval    time.Duration
	TickTimeout time.Duration
	// AutoRotate rotates overdue keys instead of only reporting them.
	AutoRotate bool
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	Checked  int
	Overdue  []string
	Notified []string
	Rotated  []string
}

// RotationScheduler periodically checks the key set for overdue keys.
// On start it bootstraps an initial current key when the key set is empty.
// RotationScheduler 定期检查密钥集合中的过期密钥。启动时若密钥集合为空，会创建初始当前密钥。
type RotationScheduler struct {
	keys     *KeyStore
	notifier service.RotationNotifier
	clock    service.Clock
	metrics  service.Metrics
	cfg      SchedulerConfig
	logger   logger.Logger

	group singleflight.Group

	mu       sync.Mutex
	state    constants.SchedulerState
	notified map[string]time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRotationScheduler creates a scheduler. A nil notifier logs overdue keys.
func NewRotationScheduler(
	keys *KeyStore,
	notifier service.RotationNotifier,
	clock service.Clock,
	metrics service.Metrics,
	cfg SchedulerConfig,
	log logger.Logger,
) *RotationScheduler {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = constants.DefaultSchedulerInterval
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = constants.DefaultTickTimeout
	}
	l := log.WithComponent("RotationScheduler")
	if notifier == nil {
		notifier = &LogNotifier{logger: l}
	}
	return &RotationScheduler{
		keys:     keys,
		notifier: notifier,
		clock:    clock,
		metrics:  metrics,
		cfg:      cfg,
		logger:   l,
		state:    constants.SchedulerIdle,
		notified: make(map[string]time.Time),
	}
}

// Start bootstraps the key set, runs a first tick and then ticks every interval until
// Stop is called or ctx is cancelled. Calling Start twice is a no-op.
func (s *RotationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	if _, err := s.EnsureBootstrap(ctx); err != nil {
		s.mu.Lock()
		s.cancel, s.done = nil, nil
		s.mu.Unlock()
		cancel()
		return err
	}

	go s.loop(loopCtx, done)
	s.logger.Info(ctx, "rotation scheduler started", logger.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop ends the tick loop and waits for a running tick to finish.
func (s *RotationScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info(context.Background(), "rotation scheduler stopped")
}

func (s *RotationScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *RotationScheduler) runTick(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error(ctx, "rotation check failed", err)
	}
}

// EnsureBootstrap creates primary-YYYYMMDD as the current key when no key exists.
// Repeated calls create at most one key.
func (s *RotationScheduler) EnsureBootstrap(ctx context.Context) (bool, error) {
	now := s.clock.Now().UTC()
	created, err := s.keys.BootstrapIfEmpty(ctx, models.NewKeySpec{
		KeyID:             constants.BootstrapKeyPrefix + now.Format("20060102"),
		Algorithm:         constants.DefaultKeyAlgorithm,
		RotationFrequency: constants.DefaultRotationFrequency,
	})
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Info(ctx, "bootstrapped initial signing key")
	}
	return created, nil
}

// Tick checks every key once. Concurrent calls share a single run.
func (s *RotationScheduler) Tick(ctx context.Context) (*TickReport, error) {
	v, err, _ := s.group.Do("tick", func() (interface{}, error) {
		return s.tick(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TickReport), nil
}

func (s *RotationScheduler) tick(ctx context.Context) (*TickReport, error) {
	s.setState(constants.SchedulerTicking)
	defer s.setState(constants.SchedulerIdle)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "RotationScheduler.Tick")

	start := time.Now()
	report, err := s.check(ctx)
	overdue := 0
	if report != nil {
		overdue = len(report.Overdue)
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	s.metrics.RecordSchedulerTick(result, time.Since(start), overdue)
	endSpan(span, err)
	return report, err
}

func (s *RotationScheduler) check(ctx context.Context) (*TickReport, error) {
	statuses, err := s.keys.CheckRotationStatus(ctx)
	if err != nil {
		return nil, err
	}

	report := &TickReport{Checked: len(statuses)}
	var firstErr error
	for _, st := range statuses {
		if !st.NeedsRotation {
			continue
		}
		report.Overdue = append(report.Overdue, st.KeyID)

		if s.cfg.AutoRotate {
			if _, err := s.keys.RotateKey(ctx, st.KeyID, models.SystemClient()); err != nil {
				s.logger.Error(ctx, "automatic rotation failed", err, logger.KeyID(st.KeyID))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			report.Rotated = append(report.Rotated, st.KeyID)
			s.forget(st.KeyID)
			continue
		}

		if !s.markNotified(st) {
			continue
		}
		if err := s.notifier.NotifyOverdue(ctx, st); err != nil {
			s.forget(st.KeyID)
			s.logger.Error(ctx, "overdue notification failed", err, logger.KeyID(st.KeyID))
			continue
		}
		report.Notified = append(report.Notified, st.KeyID)
	}

	if firstErr != nil {
		return report, errors.Internal("rotation check completed with errors", firstErr)
	}
	return report, nil
}

// markNotified returns true when the key has not been notified for its current overdue period.
func (s *RotationScheduler) markNotified(st models.SigningKeyStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.notified[st.KeyID]; ok && last.Equal(st.LastRotatedAt) {
		return false
	}
	s.notified[st.KeyID] = st.LastRotatedAt
	return true
}

func (s *RotationScheduler) forget(keyID string) {
	s.mu.Lock()
	delete(s.notified, keyID)
	s.mu.Unlock()
}

func (s *RotationScheduler) setState(state constants.SchedulerState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns whether a tick is running.
func (s *RotationScheduler) State() constants.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LogNotifier reports overdue keys through the logger.
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a notifier that writes a warning per overdue key.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.WithComponent("RotationNotifier")}
}

func (n *LogNotifier) NotifyOverdue(ctx context.Context, st models.SigningKeyStatus) error {
	n.logger.Warn(ctx, "signing key is overdue for rotation",
		logger.KeyID(st.KeyID),
		logger.Bool("is_current", st.IsCurrent),
		logger.Int("days_until_rotation", st.DaysUntilRotation),
		logger.Time("last_rotated_at", st.LastRotatedAt),
	)
	return nil
}
