package sweeper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/MichaelBrandt/CourseGate/internal/pkg/billing"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
	metrics "github.com/MichaelBrandt/CourseGate/internal/pkg/metrics/counter"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/rolesync"
	"github.com/gofiber/fiber/v2/log"
)

// ProviderClient is the slice of the PayPal API the sweeper needs.
type ProviderClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.PayPalSubscriptionDetail, error)
}

// Summary reports one full sweep pass.
type Summary struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
	Errors  int `json:"errors"`
}

// Sweeper periodically re-queries every tracked PayPal subscription against
// the provider's live API and corrects drift the webhook channel missed. A
// pass is fully idempotent: re-processing an unchanged record is a no-op, so
// the sweep can be re-run from scratch at any time.
type Sweeper struct {
	svc    *billing.Service
	roles  *rolesync.Synchronizer
	client ProviderClient

	// delay between provider lookups. The per-subscriber calls are
	// deliberately serialized with this fixed delay instead of running
	// concurrently; the provider rate limit matters more than throughput.
	interCallDelay time.Duration

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a sweeper.
func New(svc *billing.Service, roles *rolesync.Synchronizer, client ProviderClient, interCallDelay time.Duration) *Sweeper {
	return &Sweeper{
		svc:            svc,
		roles:          roles,
		client:         client,
		interCallDelay: interCallDelay,
		stopCh:         make(chan struct{}),
	}
}

var (
	globalSweeper *Sweeper
	sweeperOnce   sync.Once
)

// GetSweeper returns the global sweeper (singleton).
func GetSweeper(svc *billing.Service) *Sweeper {
	sweeperOnce.Do(func() {
		delay := 500 * time.Millisecond
		if raw := env.GetEnv("SWEEP_CALL_DELAY_MS", ""); raw != "" {
			if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
				delay = time.Duration(ms) * time.Millisecond
			}
		}
		globalSweeper = New(svc, rolesync.NewSynchronizerFromEnv(), billing.NewPayPalClientFromEnv(), delay)
	})
	return globalSweeper
}

// Start launches the periodic sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	// Recreate stop channel for each start cycle so the sweeper can be
	// restarted safely.
	s.stopCh = make(chan struct{})
	s.running = true

	interval := 24 * time.Hour
	if raw := env.GetEnv("SWEEP_INTERVAL_MINUTES", ""); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			interval = time.Duration(v) * time.Minute
		}
	}

	log.Infof("[Sweeper] Starting reconciliation sweep loop (interval %s)", interval)
	s.ticker = time.NewTicker(interval)
	s.wg.Add(1)
	go s.worker()
}

// Stop stops the sweep loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.wg.Wait()
	s.running = false
	log.Info("[Sweeper] Stopped")
}

func (s *Sweeper) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ticker.C:
			summary := s.Sweep(context.Background())
			log.Infof("[Sweeper] pass done: checked=%d changed=%d errors=%d",
				summary.Checked, summary.Changed, summary.Errors)
		}
	}
}

// Sweep runs one full pass over all tracked subscriptions. Per-item failures
// are isolated and counted; they never abort the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) Summary {
	var summary Summary

	subs, err := s.svc.Repo().ListPayPalSubscriptions()
	if err != nil {
		log.Errorf("[Sweeper] listing tracked subscriptions failed: %v", err)
		summary.Errors++
		return summary
	}

	for i := range subs {
		if ctx.Err() != nil {
			return summary
		}
		if i > 0 && s.interCallDelay > 0 {
			select {
			case <-ctx.Done():
				return summary
			case <-time.After(s.interCallDelay):
			}
		}

		sub := &subs[i]
		summary.Checked++

		detail, err := s.client.GetSubscription(ctx, sub.ExternalSubscriptionRef)
		if err != nil {
			log.Warnf("[Sweeper] live lookup for %s failed: %v", sub.ExternalSubscriptionRef, err)
			summary.Errors++
			continue
		}

		changed, transition, err := s.svc.ApplyPayPalStatus(ctx, sub.ExternalSubscriptionRef, detail.Status)
		if err != nil {
			log.Warnf("[Sweeper] status apply for %s failed: %v", sub.ExternalSubscriptionRef, err)
			summary.Errors++
			continue
		}
		if !changed {
			continue
		}
		summary.Changed++
		log.Infof("[Sweeper] %s drifted %s -> %s", sub.ExternalSubscriptionRef, sub.Status, detail.Status)

		if _, err := s.roles.Apply(ctx, transition); err != nil {
			log.Errorf("[Sweeper] role sync for user %d failed: %v", transition.UserID, err)
			summary.Errors++
		}
	}

	metrics.AddSweepResult(summary.Checked, summary.Changed, summary.Errors)
	return summary
}
