package db

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"payment-service/internal/db"
	"payment-service/tests/testhelpers"
)

type RepositoryTestSuite struct {
	suite.Suite
	pgContainer  *testhelpers.PostgresContainer
	pool         *pgxpool.Pool
	transactions *db.TransactionRepository
	donations    *db.DonationRepository
	events       *db.PaymentEventRepository
	ctx          context.Context
}

func (s *RepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	db.RunMigrations(pgContainer.ConnectionString, "../../../migrations")

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.transactions = db.NewTransactionRepository(pool)
	s.donations = db.NewDonationRepository(pool)
	s.events = db.NewPaymentEventRepository(pool)
}

func (s *RepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *RepositoryTestSuite) SetupTest() {
	for _, table := range []string{"payment_event", "payment_transaction", "donation"} {
		_, err := s.pool.Exec(s.ctx, "DELETE FROM "+table)
		if err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}
}

func (s *RepositoryTestSuite) createTransaction(reference string) *db.TransactionEntity {
	t := s.T()

	tx, err := s.transactions.BeginTx(s.ctx)
	assert.NoError(t, err)
	defer tx.Rollback(s.ctx)

	entity := &db.TransactionEntity{
		ID:        uuid.New(),
		Reference: reference,
		Amount:    5000,
		Currency:  "USD",
	}
	_, err = s.transactions.Create(s.ctx, tx, entity)
	assert.NoError(t, err)
	assert.NoError(t, tx.Commit(s.ctx))

	return entity
}

func (s *RepositoryTestSuite) backdate(reference string, age time.Duration) {
	_, err := s.pool.Exec(s.ctx,
		"UPDATE payment_transaction SET created_at = now() - make_interval(secs => $2) WHERE reference = $1",
		reference, age.Seconds())
	assert.NoError(s.T(), err)
}

func (s *RepositoryTestSuite) setAttempts(reference string, attempts int) {
	_, err := s.pool.Exec(s.ctx,
		"UPDATE payment_transaction SET verification_attempts = $2 WHERE reference = $1",
		reference, attempts)
	assert.NoError(s.T(), err)
}

func (s *RepositoryTestSuite) TestCreateAndGetByReference() {
	t := s.T()

	created := s.createTransaction("don_r1")

	entity, err := s.transactions.GetByReference(s.ctx, "don_r1")
	assert.NoError(t, err)
	assert.Equal(t, created.ID, entity.ID)
	assert.Equal(t, "pending", entity.Status)
	assert.Equal(t, int64(5000), entity.Amount)
	assert.Equal(t, 0, entity.VerificationAttempts)
	assert.Nil(t, entity.WebhookReceivedAt)
}

func (s *RepositoryTestSuite) TestGetByReference_Unknown() {
	t := s.T()

	_, err := s.transactions.GetByReference(s.ctx, "don_unknown")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func (s *RepositoryTestSuite) TestCompleteFromWebhook_Idempotent() {
	t := s.T()

	s.createTransaction("don_r1")

	transitioned, err := s.transactions.CompleteFromWebhook(s.ctx, "don_r1", "success", `{"first":true}`)
	assert.NoError(t, err)
	assert.True(t, transitioned)

	// a duplicate delivery refreshes audit fields but never the status
	transitioned, err = s.transactions.CompleteFromWebhook(s.ctx, "don_r1", "failed", `{"second":true}`)
	assert.NoError(t, err)
	assert.False(t, transitioned)

	entity, err := s.transactions.GetByReference(s.ctx, "don_r1")
	assert.NoError(t, err)
	assert.Equal(t, "success", entity.Status)
	assert.Equal(t, `{"second":true}`, *entity.WebhookPayload)
	assert.NotNil(t, entity.WebhookReceivedAt)
}

func (s *RepositoryTestSuite) TestCompleteFromVerification_DoesNotFlipWebhookResult() {
	t := s.T()

	s.createTransaction("don_r1")

	transitioned, err := s.transactions.CompleteFromWebhook(s.ctx, "don_r1", "success", `{}`)
	assert.NoError(t, err)
	assert.True(t, transitioned)

	transitioned, err = s.transactions.CompleteFromVerification(s.ctx, "don_r1", "failed", `{"status":"failed"}`)
	assert.NoError(t, err)
	assert.False(t, transitioned)

	entity, err := s.transactions.GetByReference(s.ctx, "don_r1")
	assert.NoError(t, err)
	assert.Equal(t, "success", entity.Status)
	assert.Equal(t, `{"status":"failed"}`, *entity.GatewayResponse)
}

func (s *RepositoryTestSuite) TestClaimPendingBatch() {
	t := s.T()

	s.createTransaction("don_old")
	s.backdate("don_old", 10*time.Minute)

	s.createTransaction("don_older")
	s.backdate("don_older", 20*time.Minute)

	s.createTransaction("don_young")

	s.createTransaction("don_capped")
	s.backdate("don_capped", 10*time.Minute)
	s.setAttempts("don_capped", 5)

	s.createTransaction("don_done")
	s.backdate("don_done", 10*time.Minute)
	_, err := s.transactions.CompleteFromWebhook(s.ctx, "don_done", "success", `{}`)
	assert.NoError(t, err)

	claimed, err := s.transactions.ClaimPendingBatch(s.ctx, 5*time.Minute, 5, 50)
	assert.NoError(t, err)
	assert.Len(t, claimed, 2)

	// oldest first, counters already advanced
	assert.Equal(t, "don_older", claimed[0].Reference)
	assert.Equal(t, "don_old", claimed[1].Reference)
	assert.Equal(t, 1, claimed[0].VerificationAttempts)
	assert.NotNil(t, claimed[0].LastVerificationAt)
}

func (s *RepositoryTestSuite) TestClaimPendingBatch_Limit() {
	t := s.T()

	for _, ref := range []string{"don_a", "don_b", "don_c"} {
		s.createTransaction(ref)
		s.backdate(ref, 10*time.Minute)
	}

	claimed, err := s.transactions.ClaimPendingBatch(s.ctx, 5*time.Minute, 5, 2)
	assert.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func (s *RepositoryTestSuite) TestClaimPendingBatch_AttemptCapConvergence() {
	t := s.T()

	s.createTransaction("don_r1")
	s.backdate("don_r1", 10*time.Minute)

	for i := 0; i < 5; i++ {
		claimed, err := s.transactions.ClaimPendingBatch(s.ctx, 5*time.Minute, 5, 50)
		assert.NoError(t, err)
		assert.Len(t, claimed, 1)
		assert.Equal(t, i+1, claimed[0].VerificationAttempts)
	}

	// at the cap the row is excluded from further polling
	claimed, err := s.transactions.ClaimPendingBatch(s.ctx, 5*time.Minute, 5, 50)
	assert.NoError(t, err)
	assert.Empty(t, claimed)
}

func (s *RepositoryTestSuite) TestRecordVerificationResponse() {
	t := s.T()

	s.createTransaction("don_r1")

	err := s.transactions.RecordVerificationResponse(s.ctx, "don_r1", `{"status":"abandoned"}`)
	assert.NoError(t, err)

	entity, err := s.transactions.GetByReference(s.ctx, "don_r1")
	assert.NoError(t, err)
	assert.Equal(t, "pending", entity.Status)
	assert.Equal(t, `{"status":"abandoned"}`, *entity.GatewayResponse)
}

func (s *RepositoryTestSuite) TestDonationCreateAndUpdateStatus() {
	t := s.T()

	tx, err := s.transactions.BeginTx(s.ctx)
	assert.NoError(t, err)

	donation := &db.DonationEntity{
		ID:         uuid.New(),
		DonorName:  "Ada",
		DonorEmail: "ada@example.com",
		Amount:     5000,
		Currency:   "USD",
	}
	_, err = s.donations.Create(s.ctx, tx, donation)
	assert.NoError(t, err)
	assert.NoError(t, tx.Commit(s.ctx))

	err = s.donations.UpdateStatus(s.ctx, donation.ID, "completed")
	assert.NoError(t, err)

	loaded, err := s.donations.GetByID(s.ctx, donation.ID)
	assert.NoError(t, err)
	assert.Equal(t, "completed", loaded.Status)
}

func (s *RepositoryTestSuite) TestPaymentEventLifecycle() {
	t := s.T()

	entity := &db.PaymentEventEntity{
		ID:        uuid.New(),
		Reference: "don_r1",
		EventType: "payment.completed",
		Payload:   `{"reference":"don_r1"}`,
	}
	_, err := s.events.Create(s.ctx, entity)
	assert.NoError(t, err)

	tx, err := s.events.BeginTx(s.ctx)
	assert.NoError(t, err)
	defer tx.Rollback(s.ctx)

	events, err := s.events.GetUnpublishedEvents(s.ctx, tx, 10)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, entity.ID, events[0].ID)

	now := time.Now()
	events[0].PublishAttempts = 1
	events[0].PublishedAt = &now
	events[0].ScheduledAt = nil

	err = s.events.Update(s.ctx, tx, events[0])
	assert.NoError(t, err)
	assert.NoError(t, tx.Commit(s.ctx))

	loaded, err := s.events.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, loaded.PublishAttempts)
	assert.NotNil(t, loaded.PublishedAt)

	tx, err = s.events.BeginTx(s.ctx)
	assert.NoError(t, err)
	defer tx.Rollback(s.ctx)

	events, err = s.events.GetUnpublishedEvents(s.ctx, tx, 10)
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}
