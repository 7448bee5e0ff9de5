// Package worker provides asynchronous transaction ingestion off the
// EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/casework"
	"github.com/opensource-finance/harrier/internal/domain"
)

// GlobalTenant is the bus tenant used when the worker serves every tenant
// from one subscription. The real tenant travels in the payload.
const GlobalTenant = "_global"

const defaultWorkerCount = 5

// ErrNotRunning is returned by Enqueue before Start or after Stop.
var ErrNotRunning = errors.New("worker is not running")

// Ingester runs the ingestion pipeline. *casework.Service satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, tenantID string, req *domain.TransactionRequest) (*casework.IngestResult, error)
}

// IngestMessage is the payload published on TopicTransactionIngested.
type IngestMessage struct {
	TenantID string                     `json:"tenantId"`
	Request  *domain.TransactionRequest `json:"request"`
}

// Worker ingests queued transactions with a bounded pool of goroutines.
type Worker struct {
	bus      domain.EventBus
	ingester Ingester

	mu            sync.RWMutex
	running       bool
	tenants       map[string]bool
	subscriptions []domain.Subscription

	jobs   chan *IngestMessage
	quit   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	counts struct {
		sync.Mutex
		ok, failed int64
	}
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs limits the worker to these tenants. Empty means one
	// subscription on GlobalTenant serves everyone.
	TenantIDs []string

	// WorkerCount is the number of concurrent ingestions.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, ingester Ingester) *Worker {
	return &Worker{
		bus:      bus,
		ingester: ingester,
		tenants:  make(map[string]bool),
	}
}

// Start subscribes to the ingestion topic and starts the pool.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker already started")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.jobs = make(chan *IngestMessage, cfg.WorkerCount)
	w.quit = make(chan struct{})

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{GlobalTenant}
	}
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)
		w.tenants[tenantID] = true
	}
	if len(w.subscriptions) == 0 {
		w.cancel()
		return fmt.Errorf("worker has no subscriptions")
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.run()
	}
	w.running = true

	slog.Info("workers started",
		"tenant_count", len(w.subscriptions),
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// Enqueue publishes a transaction for asynchronous ingestion. It returns
// once the bus has accepted the message.
func (w *Worker) Enqueue(ctx context.Context, tenantID string, req *domain.TransactionRequest) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if req == nil {
		return fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	w.mu.RLock()
	running := w.running
	busTenant := tenantID
	if !w.tenants[tenantID] {
		busTenant = GlobalTenant
	}
	served := w.tenants[busTenant]
	w.mu.RUnlock()

	if !running {
		return ErrNotRunning
	}
	if !served {
		return fmt.Errorf("%w: tenant %s is not served by this worker", domain.ErrInvalidInput, tenantID)
	}

	payload, err := json.Marshal(IngestMessage{TenantID: tenantID, Request: req})
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	return w.bus.Publish(ctx, busTenant, domain.TopicTransactionIngested, payload)
}

// handleMessage hands a message to the pool, blocking while it is busy.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var job IngestMessage
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if job.TenantID == "" {
		job.TenantID = msg.TenantID
	}
	if job.TenantID == GlobalTenant || job.Request == nil {
		return fmt.Errorf("%w: message %s has no tenant or transaction", domain.ErrInvalidInput, msg.ID)
	}

	select {
	case w.jobs <- &job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			for {
				select {
				case job := <-w.jobs:
					w.process(job)
				default:
					return
				}
			}
		case job := <-w.jobs:
			w.process(job)
		}
	}
}

func (w *Worker) process(job *IngestMessage) {
	start := time.Now()
	// Stop must not abort an ingestion halfway through its writes.
	res, err := w.ingester.Ingest(context.WithoutCancel(w.ctx), job.TenantID, job.Request)

	w.counts.Lock()
	if err != nil {
		w.counts.failed++
	} else {
		w.counts.ok++
	}
	w.counts.Unlock()

	if err != nil {
		slog.Error("async ingestion failed",
			"tenant_id", job.TenantID,
			"external_id", job.Request.TransactionID,
			"error", err,
		)
		return
	}
	slog.Debug("transaction processed",
		"tenant_id", job.TenantID,
		"tx_id", res.Transaction.ID,
		"risk_score", res.Score.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits until every accepted message has been
// ingested. On the channel bus that includes messages still buffered in
// the subscription; the NATS bus drops what the server has not delivered.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	subs := w.subscriptions
	w.subscriptions = nil
	w.tenants = make(map[string]bool)
	w.mu.Unlock()

	// The pool keeps running while subscriptions drain into it.
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	close(w.quit)
	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	Running           bool     `json:"running"`
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.RLock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	stats := Stats{
		Running:           w.running,
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
	w.mu.RUnlock()

	w.counts.Lock()
	stats.Processed = w.counts.ok
	stats.Failed = w.counts.failed
	w.counts.Unlock()
	return stats
}
