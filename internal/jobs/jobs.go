// Package jobs runs the periodic cleanup tasks.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/example/bondsnbeyond/internal/services"
)

const taskTimeout = 30 * time.Second

// Sweeper drops expired in-process guard entries.
type Sweeper interface {
	Sweep() int
}

// Runner holds what the cleanup tasks operate on. Any field may be nil.
type Runner struct {
	Guard           Sweeper
	OTPs            *services.OTPService
	Sessions        *services.SessionService
	Orders          *services.OrderService
	OrderPendingTTL time.Duration
}

// SweepGuard removes expired cooldowns and locks.
func (r *Runner) SweepGuard() {
	if r.Guard == nil {
		return
	}
	if n := r.Guard.Sweep(); n > 0 {
		log.Printf("[Jobs] swept %d guard entries", n)
	}
}

// PruneOTPs deletes codes past their expiry.
func (r *Runner) PruneOTPs() {
	if r.OTPs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	n, err := r.OTPs.PruneExpired(ctx)
	if err != nil {
		log.Printf("[Jobs] prune otps: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Jobs] pruned %d expired otps", n)
	}
}

// PruneSessions deletes expired sessions.
func (r *Runner) PruneSessions() {
	if r.Sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	n, err := r.Sessions.PruneExpired(ctx)
	if err != nil {
		log.Printf("[Jobs] prune sessions: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Jobs] pruned %d expired sessions", n)
	}
}

// ExpireOrders cancels pending orders nobody paid for.
func (r *Runner) ExpireOrders() {
	if r.Orders == nil || r.OrderPendingTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	n, err := r.Orders.ExpireStalePending(ctx, r.OrderPendingTTL)
	if err != nil {
		log.Printf("[Jobs] expire orders: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Jobs] cancelled %d stale pending orders", n)
	}
}

// Start schedules every task and starts the scheduler. Call Shutdown on the result when done.
func Start(r *Runner) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	schedule := []struct {
		name  string
		every time.Duration
		task  func()
	}{
		{"guard-sweep", time.Minute, r.SweepGuard},
		{"otp-prune", 10 * time.Minute, r.PruneOTPs},
		{"session-prune", time.Hour, r.PruneSessions},
		{"order-expiry", time.Hour, r.ExpireOrders},
	}

	for _, job := range schedule {
		_, err := s.NewJob(
			gocron.DurationJob(job.every),
			gocron.NewTask(job.task),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, err
		}
	}

	s.Start()
	log.Printf("[Jobs] scheduler started with %d jobs", len(schedule))
	return s, nil
}
