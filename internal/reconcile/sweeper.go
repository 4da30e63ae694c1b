package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/gateway"
	"payment-service/internal/logging"
	"payment-service/internal/payment"
)

const (
	defaultIntervalMs    = 120_000
	defaultGracePeriodMs = 300_000
	defaultBatchSize     = 50
	defaultMaxAttempts   = 5
)

var (
	// sweep batch metrics
	sweeperErrorFetchingCounter = metrics.GetOrCreateCounter(`sweeper_total{result="fetching_failed"}`)
	sweeperSuccessCounter       = metrics.GetOrCreateCounter(`sweeper_total{result="success"}`)

	sweeperDurationHistogram = metrics.GetOrCreateHistogram(`sweeper_duration_milliseconds`)

	// sweep per item metrics
	sweeperItemsResolvedCounter     = metrics.GetOrCreateCounter(`sweeper_items_total{result="resolved"}`)
	sweeperItemsStillPendingCounter = metrics.GetOrCreateCounter(`sweeper_items_total{result="still_pending"}`)
	sweeperItemsErrorCounter        = metrics.GetOrCreateCounter(`sweeper_items_total{result="error"}`)
)

type TransactionClaimer interface {
	ClaimPendingBatch(ctx context.Context, olderThan time.Duration, maxAttempts, limit int) ([]*db.TransactionEntity, error)
	RecordVerificationResponse(ctx context.Context, reference, response string) error
}

type Verifier interface {
	Verify(ctx context.Context, reference string) (*gateway.VerifyResponse, error)
}

type TransitionApplier interface {
	Apply(ctx context.Context, txn *db.TransactionEntity, status payment.Status, raw string, source payment.TransitionSource) (bool, error)
}

// Summary is what one sweep reports, for observability only.
type Summary struct {
	Processed int      `json:"processed"`
	Verified  int      `json:"verified"`
	Errors    int      `json:"errors"`
	Details   []Detail `json:"details"`
}

type Detail struct {
	Reference string `json:"reference"`
	Attempt   int    `json:"attempt"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

// Sweeper is the slow path to consistency: it actively asks the gateway
// about pending transactions the webhook never confirmed. Webhooks can be
// dropped, delayed or sent to a down endpoint; convergence must not depend
// on one ever arriving.
type Sweeper struct {
	repo         TransactionClaimer
	verifier     Verifier
	transitioner TransitionApplier
	interval     time.Duration
	gracePeriod  time.Duration
	batchSize    int
	maxAttempts  int
	logger       *slog.Logger
}

func NewSweeper(repo TransactionClaimer, verifier Verifier, transitioner TransitionApplier, cfg config.Sweeper, logger *slog.Logger) *Sweeper {
	intervalMs := cfg.IntervalMs
	if intervalMs <= 0 {
		intervalMs = defaultIntervalMs
	}
	gracePeriodMs := cfg.GracePeriodMs
	if gracePeriodMs <= 0 {
		gracePeriodMs = defaultGracePeriodMs
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Sweeper{
		repo:         repo,
		verifier:     verifier,
		transitioner: transitioner,
		interval:     time.Duration(intervalMs) * time.Millisecond,
		gracePeriod:  time.Duration(gracePeriodMs) * time.Millisecond,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		logger:       logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				s.logger.InfoContext(ctx, "Context done, stopping sweeper")
				return
			}
		}
	}()
}

// Sweep claims one batch of stale pending transactions and reconciles each
// against the gateway. The claim already advanced every attempt counter, so
// a crash below cannot retry-storm the same rows. Items are isolated: one
// failure never aborts the batch.
func (s *Sweeper) Sweep(ctx context.Context) Summary {
	startTime := time.Now()

	// runId correlates all logs of one sweep
	ctx = logging.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	claimed, err := s.repo.ClaimPendingBatch(ctx, s.gracePeriod, s.maxAttempts, s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error claiming pending transactions", "error", err)
		sweeperErrorFetchingCounter.Inc()
		return Summary{}
	}

	if len(claimed) == 0 {
		sweeperSuccessCounter.Inc()
		return Summary{}
	}

	s.logger.InfoContext(ctx, "Reconciling pending transactions", "count", len(claimed))

	summary := Summary{Processed: len(claimed)}

	for _, txn := range claimed {
		detail := s.reconcile(logging.AppendCtx(ctx, slog.String("reference", txn.Reference)), txn)
		summary.Details = append(summary.Details, detail)

		switch detail.Outcome {
		case "error":
			summary.Errors++
		case string(payment.StatusSuccess), string(payment.StatusFailed):
			summary.Verified++
		}
	}

	sweeperSuccessCounter.Inc()
	sweeperDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))

	s.logger.InfoContext(ctx, "Sweep finished",
		"processed", summary.Processed, "verified", summary.Verified, "errors", summary.Errors)

	return summary
}

func (s *Sweeper) reconcile(ctx context.Context, txn *db.TransactionEntity) Detail {
	detail := Detail{Reference: txn.Reference, Attempt: txn.VerificationAttempts}

	resp, err := s.verifier.Verify(ctx, txn.Reference)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error verifying transaction", "error", err)
		sweeperItemsErrorCounter.Inc()
		detail.Outcome = "error"
		detail.Error = err.Error()
		return detail
	}

	outcome := payment.MapGatewayStatus(resp.Status)
	if !outcome.Terminal() {
		// left pending for the next sweep; the attempt counter already advanced
		if err := s.repo.RecordVerificationResponse(ctx, txn.Reference, resp.Raw); err != nil {
			s.logger.ErrorContext(ctx, "Error recording gateway response", "error", err)
		}
		sweeperItemsStillPendingCounter.Inc()
		detail.Outcome = string(payment.StatusPending)
		return detail
	}

	if _, err := s.transitioner.Apply(ctx, txn, outcome, resp.Raw, payment.SourceVerification); err != nil {
		s.logger.ErrorContext(ctx, "Error applying verification transition", "error", err)
		sweeperItemsErrorCounter.Inc()
		detail.Outcome = "error"
		detail.Error = err.Error()
		return detail
	}

	sweeperItemsResolvedCounter.Inc()
	detail.Outcome = string(outcome)
	return detail
}
