package credential

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trysoma/soma-sub005/infrastructure/security"
)

// Scheduler periodically sweeps persisted triples and rotates any whose
// source variant implements ScheduledRotator and reports a due
// NextRotationTime. Rotation failures are logged and skipped; the next
// sweep retries them.
type Scheduler struct {
	registry *Registry
	interval time.Duration
	log      *logrus.Entry
}

// NewScheduler builds a Scheduler that sweeps every interval.
func NewScheduler(registry *Registry, interval time.Duration, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{
		registry: registry,
		interval: interval,
		log:      log.WithField("component", "credential_scheduler"),
	}
}

// Run blocks, sweeping on a ticker until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	triples, err := s.registry.repo.List(ctx)
	if err != nil {
		s.log.WithError(err).Error("list credential triples for rotation sweep")
		return
	}
	now := time.Now()
	for _, triple := range triples {
		s.maybeRotate(ctx, triple, now)
	}
}

func (s *Scheduler) maybeRotate(ctx context.Context, triple CredentialTriple, now time.Time) {
	source, err := s.registry.Source(triple.TypeID)
	if err != nil {
		s.log.WithError(err).WithField("instance_id", triple.InstanceID).Warn("credential source no longer registered")
		return
	}

	if rotator, ok := source.(ResourceServerRotator); ok {
		if sched, ok := source.(ScheduledRotator); ok {
			if due, ok := sched.NextRotationTime(triple); ok && !now.Before(due) {
				s.rotateResourceServer(ctx, source, rotator, triple)
			}
		}
	}

	// Re-fetch in case the resource-server branch above mutated it.
	refreshed, err := s.registry.repo.Get(ctx, triple.InstanceID)
	if err != nil {
		return
	}
	triple = refreshed

	if rotator, ok := source.(UserCredentialRotator); ok {
		if sched, ok := source.(ScheduledRotator); ok {
			if due, ok := sched.NextRotationTime(triple); ok && !now.Before(due) {
				s.rotateUser(ctx, rotator, triple)
			}
		}
	}
}

func (s *Scheduler) rotateResourceServer(ctx context.Context, source Source, rotator ResourceServerRotator, triple CredentialTriple) {
	updated, err := rotator.RotateResourceServerCredential(ctx, s.registry.vault, triple.ResourceServerDEKAlias, triple.ResourceServerCredential)
	if err != nil {
		s.log.WithField("error", security.SanitizeError(err)).WithField("instance_id", triple.InstanceID).Error("rotate resource-server credential")
		return
	}
	triple.ResourceServerCredential = updated
	triple.ResourceServerRotatedAt = time.Now()
	if err := s.registry.repo.Put(ctx, triple); err != nil {
		s.log.WithError(err).WithField("instance_id", triple.InstanceID).Error("persist rotated resource-server credential")
		return
	}
	s.registry.onChange(ChangeEventUpdated, triple)
}

func (s *Scheduler) rotateUser(ctx context.Context, rotator UserCredentialRotator, triple CredentialTriple) {
	updated, err := rotator.RotateUserCredential(ctx, s.registry.vault, triple.UserDEKAlias, triple.UserCredential)
	if err != nil {
		s.log.WithField("error", security.SanitizeError(err)).WithField("instance_id", triple.InstanceID).Error("rotate user credential")
		return
	}
	triple.UserCredential = updated
	triple.UserRotatedAt = time.Now()
	if err := s.registry.repo.Put(ctx, triple); err != nil {
		s.log.WithError(err).WithField("instance_id", triple.InstanceID).Error("persist rotated user credential")
		return
	}
	s.registry.onChange(ChangeEventUpdated, triple)
}
