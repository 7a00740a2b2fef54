// Package shop assembles one Shop: the Waiter, its Baristas, the
// Announcer, and the Collection Point, wired together against a
// user-supplied Machine. Construction is two-phase: New allocates the
// Shop and its sub-components, handing each the shared handles it needs
// (work queue, keyed store, order chain) directly rather than a pointer
// back to the Shop, then Init opens the multicast sockets before Run
// starts any goroutine.
package shop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/oriys/brew/internal/announcer"
	"github.com/oriys/brew/internal/audit"
	"github.com/oriys/brew/internal/barista"
	"github.com/oriys/brew/internal/cache"
	"github.com/oriys/brew/internal/codec"
	"github.com/oriys/brew/internal/collectionpoint"
	"github.com/oriys/brew/internal/config"
	"github.com/oriys/brew/internal/logging"
	"github.com/oriys/brew/internal/machine"
	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/metrics"
	"github.com/oriys/brew/internal/orderchain"
	"github.com/oriys/brew/internal/queue"
	"github.com/oriys/brew/internal/store"
	"github.com/oriys/brew/internal/waiter"
)

// Shop owns every component for one task, parameterized over the
// Machine's (Query, Input, Output) types per spec §9's cyclic type
// graph design note.
type Shop[Q message.QueryType, I any, O any] struct {
	name    string
	cfg     *config.Config
	machine machine.Machine[Q, I, O]

	Chain     *orderchain.Chain
	Queue     *queue.WorkQueue
	Store     *store.Store
	Announcer *announcer.Announcer
	Waiter    *waiter.Waiter[Q, I, O]
	Metrics   *metrics.Shop
	Audit     *audit.Log

	scratch *codec.ScratchDir
	point   *collectionpoint.Point

	once sync.Once
}

// New resolves the work queue, keyed store, and optional cache/audit
// sinks, and wires them (plus a fresh Chain and Metrics) into a Shop.
// The Announcer is not yet open; call Init before Run.
func New[Q message.QueryType, I any, O any](ctx context.Context, name string, cfg *config.Config, awsCfg aws.Config, m machine.Machine[Q, I, O]) (*Shop[Q, I, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scratch, err := codec.NewScratchDir()
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	wq, err := queue.New(ctx, awsCfg, cfg.SQSQueue)
	if err != nil {
		scratch.Close()
		return nil, fmt.Errorf("resolve work queue: %w", err)
	}

	// Every Store gets an in-memory L1 cache; Redis, when configured,
	// sits behind it as a cross-instance L2 so a consistency-delay
	// retry from any Shop process in the cluster can hit a warm read.
	//
	// A settled row never mutates, so L1's TTL isn't bounding staleness
	// (there is none to bound) — it only bounds how long a hot row
	// lingers in process memory before falling back to an L2/DynamoDB
	// read. Sized well above collectionpoint.MaxConsistencyWait, the
	// one existing fetch-timing budget in this domain, rather than an
	// arbitrary default.
	var cacheImpl cache.Cache = cache.NewInMemoryCache()
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cache.RedisCacheConfig{Addr: cfg.RedisAddr})
		l1TTL := collectionpoint.MaxConsistencyWait * 100
		cacheImpl = cache.NewTieredCache(cacheImpl, redisCache, l1TTL)
	}

	ttl := cfg.ItemTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	st := store.New(awsCfg, cfg.DynamoDBTable, cfg.DynamoDBPartitionKey, ttl, cacheImpl, scratch)

	var auditLog *audit.Log
	if cfg.AuditDSN != "" {
		auditLog, err = audit.New(ctx, cfg.AuditDSN)
		if err != nil {
			logging.Op().Warn("audit log unavailable, continuing without it", "error", err)
			auditLog = nil
		}
	}

	chain := orderchain.New()
	met := metrics.New(name)

	s := &Shop[Q, I, O]{
		name:    name,
		cfg:     cfg,
		machine: m,
		Chain:   chain,
		Queue:   wq,
		Store:   st,
		Metrics: met,
		Audit:   auditLog,
		scratch: scratch,
		point:   collectionpoint.New(chain),
	}
	s.Waiter = waiter.New(name, wq, st, chain, m, cfg.MaxTickets, met, auditLog)

	return s, nil
}

// Init opens the Announcer's sender/receiver sockets, dispatching
// incoming finished notifications to the Collection Point.
func (s *Shop[Q, I, O]) Init() error {
	ann, err := announcer.New(s.name, s.cfg.MulticastHost, s.cfg.MulticastPort, s.point.Handle)
	if err != nil {
		return fmt.Errorf("open announcer: %w", err)
	}
	s.Announcer = ann
	return nil
}

// Run starts the Announcer listener, baristaCount Baristas, a
// queue-depth sampler, and the Collection Point's fallback poller, and
// blocks until ctx is cancelled, then waits for all of them to return.
// None of these goroutines reports a fatal error to Run, so one of them
// failing does not shut down the rest; Run always returns nil.
func (s *Shop[Q, I, O]) Run(ctx context.Context, baristaCount int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Announcer.Listen(ctx)
	}()

	for i := 0; i < baristaCount; i++ {
		w := barista.New(s.name, s.Queue, s.Store, s.Announcer, s.machine, s.cfg.StrictReceipts, s.Metrics, s.Audit)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sampleQueueDepth(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.point.PollFallback(ctx, s.Store)
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}

// sampleQueueDepth periodically refreshes the queue-depth and
// tracked-ticket gauges for scraping.
func (s *Shop[Q, I, O]) sampleQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Chain.Advance()
			s.Metrics.SetTrackedTickets(s.Chain.Len())
			if depth, err := s.Queue.ApproximateDepth(ctx); err == nil {
				s.Metrics.SetQueueDepth(depth)
			}
		}
	}
}

// Close releases the Announcer's sockets, the audit log, and the
// scratch directory.
func (s *Shop[Q, I, O]) Close() error {
	var first error
	s.once.Do(func() {
		if s.Announcer != nil {
			if err := s.Announcer.Close(); err != nil && first == nil {
				first = err
			}
		}
		if s.Audit != nil {
			s.Audit.Close()
		}
		if err := s.scratch.Close(); err != nil && first == nil {
			first = err
		}
	})
	return first
}
