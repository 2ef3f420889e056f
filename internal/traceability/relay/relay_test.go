package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/medaudit/internal/clock"
	"github.com/smallbiznis/medaudit/internal/observability/metrics"
	"github.com/smallbiznis/medaudit/internal/testutil"
	"github.com/smallbiznis/medaudit/internal/traceability/domain"
	"github.com/smallbiznis/medaudit/internal/traceability/repository"
	"github.com/smallbiznis/medaudit/internal/traceability/service"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []Message
	failFrom int
	calls    int
}

func (p *fakePublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failFrom > 0 && p.calls >= p.failFrom {
		return errors.New("channel closed")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) heal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failFrom = 0
}

type relayFixture struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	trace     domain.Service
	repo      domain.Repository
	publisher *fakePublisher
	relay     *Relay
}

func setupRelay(t *testing.T, batchSize int) *relayFixture {
	t.Helper()
	f := &relayFixture{
		db:        testutil.NewDB(t),
		clock:     clock.NewFakeClock(testutil.BaseTime),
		repo:      repository.Provide(),
		publisher: &fakePublisher{},
	}
	f.trace = service.New(service.Params{
		DB:    f.db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: f.clock,
		Repo:  f.repo,
	})

	var err error
	f.relay, err = New(Params{
		DB:        f.db,
		Log:       zap.NewNop(),
		Clock:     f.clock,
		Repo:      f.repo,
		Publisher: f.publisher,
		Metrics:   metrics.NewRelayMetrics(prometheus.NewRegistry(), metrics.Config{Environment: "test"}),
		Config:    Config{BatchSize: batchSize, SettleDelay: time.Second},
	})
	require.NoError(t, err)
	return f
}

func (f *relayFixture) record(t *testing.T, claimID snowflake.ID, action string) *domain.Entry {
	t.Helper()
	entry, err := f.trace.Record(context.Background(), nil, domain.Entry{
		ClaimTransactionID: claimID,
		ActionCode:         action,
		Metadata:           map[string]any{"step": action},
	})
	require.NoError(t, err)
	return entry
}

func (f *relayFixture) offset(t *testing.T) snowflake.ID {
	t.Helper()
	offset, err := f.repo.GetOffset(context.Background(), f.db, defaultConsumer)
	require.NoError(t, err)
	return offset
}

func TestRunOncePublishesInOrder(t *testing.T) {
	f := setupRelay(t, 10)
	ctx := context.Background()

	first := f.record(t, 1, domain.ActionClaimReceived)
	second := f.record(t, 1, domain.ActionPreAuditClassified)
	third := f.record(t, 2, domain.ActionGlosaApplied)
	f.clock.Advance(2 * time.Second)

	published, err := f.relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, published)

	require.Len(t, f.publisher.messages, 3)
	assert.Equal(t, domain.ActionClaimReceived, f.publisher.messages[0].RoutingKey)
	assert.Equal(t, domain.ActionPreAuditClassified, f.publisher.messages[1].RoutingKey)
	assert.Equal(t, domain.ActionGlosaApplied, f.publisher.messages[2].RoutingKey)
	assert.Equal(t, first.ID.String(), f.publisher.messages[0].MessageID)
	assert.Equal(t, second.ID.String(), f.publisher.messages[1].MessageID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(f.publisher.messages[2].Body, &body))
	assert.Equal(t, third.ID.String(), body["id"])
	assert.Equal(t, "2", body["claim_transaction_id"])
	assert.Equal(t, domain.SystemActor, body["actor_id"])
	assert.Equal(t, "2", f.publisher.messages[2].Headers["claim_transaction_id"])

	assert.Equal(t, third.ID, f.offset(t))

	published, err = f.relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Len(t, f.publisher.messages, 3)
}

func TestRunOnceHoldsBackUnsettledEntries(t *testing.T) {
	f := setupRelay(t, 10)
	ctx := context.Background()

	settled := f.record(t, 1, domain.ActionClaimReceived)
	f.clock.Advance(2 * time.Second)
	fresh := f.record(t, 1, domain.ActionPreAuditClassified)

	published, err := f.relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, settled.ID, f.offset(t))

	f.clock.Advance(2 * time.Second)
	published, err = f.relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, fresh.ID, f.offset(t))
}

func TestRunOnceKeepsOffsetOfConfirmedEntries(t *testing.T) {
	f := setupRelay(t, 10)
	ctx := context.Background()

	first := f.record(t, 1, domain.ActionClaimReceived)
	f.record(t, 1, domain.ActionPreAuditClassified)
	last := f.record(t, 1, domain.ActionAssignmentBound)
	f.clock.Advance(2 * time.Second)

	f.publisher.failFrom = 2
	published, err := f.relay.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, first.ID, f.offset(t))

	f.publisher.heal()
	published, err = f.relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Equal(t, last.ID, f.offset(t))
	require.Len(t, f.publisher.messages, 3)
	assert.Equal(t, domain.ActionPreAuditClassified, f.publisher.messages[1].RoutingKey)
}

func TestRunOnceStopsWhenBreakerOpens(t *testing.T) {
	f := setupRelay(t, 10)
	ctx := context.Background()

	f.record(t, 1, domain.ActionClaimReceived)
	f.clock.Advance(2 * time.Second)
	f.publisher.failFrom = 1

	for i := 0; i < breakerFailures; i++ {
		_, err := f.relay.RunOnce(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, breakerFailures, f.publisher.calls)

	_, err := f.relay.RunOnce(ctx)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, breakerFailures, f.publisher.calls)
	assert.Zero(t, f.offset(t))
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	f := setupRelay(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.record(t, snowflake.ID(i+1), domain.ActionClaimReceived)
	}
	f.clock.Advance(2 * time.Second)

	total := 0
	for i := 0; i < 3; i++ {
		published, err := f.relay.RunOnce(ctx)
		require.NoError(t, err)
		total += published
	}
	assert.Equal(t, 5, total)
	assert.Len(t, f.publisher.messages, 5)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
