package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/gateway"
	"payment-service/internal/payment"
)

type fakeClaimer struct {
	batch     []*db.TransactionEntity
	err       error
	recorded  []string
	claimArgs struct {
		olderThan   time.Duration
		maxAttempts int
		limit       int
	}
}

func (f *fakeClaimer) ClaimPendingBatch(_ context.Context, olderThan time.Duration, maxAttempts, limit int) ([]*db.TransactionEntity, error) {
	f.claimArgs.olderThan = olderThan
	f.claimArgs.maxAttempts = maxAttempts
	f.claimArgs.limit = limit
	return f.batch, f.err
}

func (f *fakeClaimer) RecordVerificationResponse(_ context.Context, reference, _ string) error {
	f.recorded = append(f.recorded, reference)
	return nil
}

type fakeVerifier struct {
	statuses map[string]string
	errs     map[string]error
}

func (f *fakeVerifier) Verify(_ context.Context, reference string) (*gateway.VerifyResponse, error) {
	if err, ok := f.errs[reference]; ok {
		return nil, err
	}
	status := f.statuses[reference]
	return &gateway.VerifyResponse{Reference: reference, Status: status, Raw: `{"status":"` + status + `"}`}, nil
}

type fakeApplier struct {
	applied map[string]payment.Status
	errs    map[string]error
}

func (f *fakeApplier) Apply(_ context.Context, txn *db.TransactionEntity, status payment.Status, _ string, source payment.TransitionSource) (bool, error) {
	if err, ok := f.errs[txn.Reference]; ok {
		return false, err
	}
	if source != payment.SourceVerification {
		return false, errors.New("unexpected transition source")
	}
	if f.applied == nil {
		f.applied = map[string]payment.Status{}
	}
	f.applied[txn.Reference] = status
	return true, nil
}

func claimedTransaction(reference string, attempt int) *db.TransactionEntity {
	return &db.TransactionEntity{
		ID:                   uuid.New(),
		Reference:            reference,
		Status:               string(payment.StatusPending),
		VerificationAttempts: attempt,
	}
}

func newTestSweeper(claimer *fakeClaimer, verifier *fakeVerifier, applier *fakeApplier, cfg config.Sweeper) *Sweeper {
	return NewSweeper(claimer, verifier, applier, cfg, slog.Default())
}

func TestSweep_ResolvesBatch(t *testing.T) {
	claimer := &fakeClaimer{batch: []*db.TransactionEntity{
		claimedTransaction("don_r1", 1),
		claimedTransaction("don_r2", 1),
	}}
	verifier := &fakeVerifier{statuses: map[string]string{"don_r1": "success", "don_r2": "failed"}}
	applier := &fakeApplier{}

	summary := newTestSweeper(claimer, verifier, applier, config.Sweeper{}).Sweep(context.Background())

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Verified)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, payment.StatusSuccess, applier.applied["don_r1"])
	assert.Equal(t, payment.StatusFailed, applier.applied["don_r2"])
}

func TestSweep_OneFailureDoesNotAbortBatch(t *testing.T) {
	claimer := &fakeClaimer{batch: []*db.TransactionEntity{
		claimedTransaction("don_r1", 1),
		claimedTransaction("don_r2", 1),
		claimedTransaction("don_r3", 1),
	}}
	verifier := &fakeVerifier{
		statuses: map[string]string{"don_r1": "success", "don_r3": "failed"},
		errs:     map[string]error{"don_r2": errors.New("gateway timeout")},
	}
	applier := &fakeApplier{}

	summary := newTestSweeper(claimer, verifier, applier, config.Sweeper{}).Sweep(context.Background())

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Verified)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, payment.StatusSuccess, applier.applied["don_r1"])
	assert.Equal(t, payment.StatusFailed, applier.applied["don_r3"])
	assert.NotContains(t, applier.applied, "don_r2")

	var errorDetail Detail
	for _, d := range summary.Details {
		if d.Reference == "don_r2" {
			errorDetail = d
		}
	}
	assert.Equal(t, "error", errorDetail.Outcome)
	assert.Contains(t, errorDetail.Error, "gateway timeout")
}

func TestSweep_StillPendingLeftForNextSweep(t *testing.T) {
	claimer := &fakeClaimer{batch: []*db.TransactionEntity{claimedTransaction("don_r1", 2)}}
	verifier := &fakeVerifier{statuses: map[string]string{"don_r1": "abandoned"}}
	applier := &fakeApplier{}

	summary := newTestSweeper(claimer, verifier, applier, config.Sweeper{}).Sweep(context.Background())

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Verified)
	assert.Equal(t, 0, summary.Errors)
	assert.Empty(t, applier.applied)
	assert.Equal(t, []string{"don_r1"}, claimer.recorded)
	assert.Equal(t, string(payment.StatusPending), summary.Details[0].Outcome)
}

func TestSweep_UpdateFailureCountsAsError(t *testing.T) {
	claimer := &fakeClaimer{batch: []*db.TransactionEntity{
		claimedTransaction("don_r1", 1),
		claimedTransaction("don_r2", 1),
	}}
	verifier := &fakeVerifier{statuses: map[string]string{"don_r1": "success", "don_r2": "success"}}
	applier := &fakeApplier{errs: map[string]error{"don_r1": errors.New("write failed")}}

	summary := newTestSweeper(claimer, verifier, applier, config.Sweeper{}).Sweep(context.Background())

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Verified)
	assert.Equal(t, 1, summary.Errors)
}

func TestSweep_ClaimFailure(t *testing.T) {
	claimer := &fakeClaimer{err: errors.New("database down")}

	summary := newTestSweeper(claimer, &fakeVerifier{}, &fakeApplier{}, config.Sweeper{}).Sweep(context.Background())

	assert.Equal(t, Summary{}, summary)
}

func TestSweep_ConfigPassedToClaim(t *testing.T) {
	claimer := &fakeClaimer{}
	cfg := config.Sweeper{IntervalMs: 60_000, GracePeriodMs: 300_000, BatchSize: 50, MaxAttempts: 5}

	newTestSweeper(claimer, &fakeVerifier{}, &fakeApplier{}, cfg).Sweep(context.Background())

	assert.Equal(t, 5*time.Minute, claimer.claimArgs.olderThan)
	assert.Equal(t, 5, claimer.claimArgs.maxAttempts)
	assert.Equal(t, 50, claimer.claimArgs.limit)
}

func TestSweep_DetailCarriesAttemptCount(t *testing.T) {
	claimer := &fakeClaimer{batch: []*db.TransactionEntity{claimedTransaction("don_r1", 4)}}
	verifier := &fakeVerifier{statuses: map[string]string{"don_r1": "success"}}

	summary := newTestSweeper(claimer, verifier, &fakeApplier{}, config.Sweeper{}).Sweep(context.Background())

	assert.Equal(t, 4, summary.Details[0].Attempt)
}
