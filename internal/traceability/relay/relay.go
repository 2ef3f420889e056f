package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/clock"
	obscontext "github.com/smallbiznis/medaudit/internal/observability/context"
	obslogger "github.com/smallbiznis/medaudit/internal/observability/logger"
	"github.com/smallbiznis/medaudit/internal/observability/metrics"
	"github.com/smallbiznis/medaudit/internal/traceability/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	runStatusOK    = "ok"
	runStatusIdle  = "idle"
	runStatusError = "error"

	breakerFailures = 5
	breakerCooldown = 30 * time.Second
	batchTimeout    = 30 * time.Second
)

var ErrInvalidConfig = errors.New("invalid_relay_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      domain.Repository
	Publisher Publisher
	Metrics   *metrics.RelayMetrics `optional:"true"`
	Config    Config                `optional:"true"`
}

// Relay streams the traceability log to a broker in id order. Delivery is
// at least once: the offset is saved only after entries are confirmed.
type Relay struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      domain.Repository
	publisher Publisher
	metrics   *metrics.RelayMetrics
	cfg       Config
	breaker   *gobreaker.CircuitBreaker
}

type event struct {
	ID                 string         `json:"id"`
	ClaimTransactionID string         `json:"claim_transaction_id"`
	ActorID            string         `json:"actor_id"`
	ActionCode         string         `json:"action_code"`
	Metadata           map[string]any `json:"metadata"`
	CreatedAt          time.Time      `json:"created_at"`
}

func New(p Params) (*Relay, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Publisher == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	log := p.Log.Named("traceability.relay").With(zap.String("consumer", cfg.Consumer))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "traceability-relay-" + cfg.Consumer,
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("relay breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Relay{
		db:        p.DB,
		log:       log,
		clock:     p.Clock,
		repo:      p.Repo,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		cfg:       cfg,
		breaker:   breaker,
	}, nil
}

// RunOnce publishes at most one batch and returns how many entries were
// delivered.
func (r *Relay) RunOnce(parent context.Context) (int, error) {
	start := r.clock.Now()
	ctx, cancel := context.WithTimeout(parent, batchTimeout)
	defer cancel()
	ctx = obscontext.WithActor(ctx, domain.SystemActor)

	offset, err := r.repo.GetOffset(ctx, r.db, r.cfg.Consumer)
	if err != nil {
		return r.finish(ctx, start, 0, 0, fmt.Errorf("load offset: %w", err))
	}
	entries, err := r.repo.ListAfter(ctx, r.db, offset, r.cfg.BatchSize)
	if err != nil {
		return r.finish(ctx, start, 0, offset, fmt.Errorf("list entries: %w", err))
	}

	cutoff := r.clock.Now().UTC().Add(-r.cfg.SettleDelay)
	last := offset
	published := 0
	var publishErr error
	for _, entry := range entries {
		if entry.CreatedAt.After(cutoff) {
			break
		}
		msg, err := toMessage(entry)
		if err != nil {
			publishErr = err
			break
		}
		if _, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, r.publisher.Publish(ctx, msg)
		}); err != nil {
			publishErr = fmt.Errorf("publish entry %s: %w", entry.ID, err)
			break
		}
		last = entry.ID
		published++
	}

	if last != offset {
		// Saved even when the batch stopped early so confirmed entries are
		// not redelivered.
		if err := r.repo.SaveOffset(context.WithoutCancel(ctx), r.db, r.cfg.Consumer, last, r.clock.Now().UTC()); err != nil {
			return r.finish(ctx, start, published, last, errors.Join(publishErr, fmt.Errorf("save offset: %w", err)))
		}
	}
	return r.finish(ctx, start, published, last, publishErr)
}

func (r *Relay) finish(ctx context.Context, start time.Time, published int, offset snowflake.ID, err error) (int, error) {
	status := runStatusOK
	switch {
	case err != nil:
		status = runStatusError
	case published == 0:
		status = runStatusIdle
	}
	r.metrics.ObserveBatch(status, published, offset.Int64(), r.clock.Now().Sub(start))
	r.metrics.IncError(err)

	log := obslogger.WithContext(ctx, r.log)
	if err != nil {
		log.Warn("relay batch failed",
			zap.Int("published", published),
			zap.String("offset", offset.String()),
			zap.Error(err),
		)
		return published, err
	}
	if published > 0 {
		log.Debug("relay batch published",
			zap.Int("published", published),
			zap.String("offset", offset.String()),
		)
	}
	return published, nil
}

// RunForever drains full batches back to back and sleeps for the poll
// interval once the log is caught up.
func (r *Relay) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		published, err := r.RunOnce(ctx)
		if err == nil && published >= r.cfg.BatchSize {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func toMessage(entry *domain.Entry) (Message, error) {
	body, err := json.Marshal(event{
		ID:                 entry.ID.String(),
		ClaimTransactionID: entry.ClaimTransactionID.String(),
		ActorID:            entry.ActorID,
		ActionCode:         entry.ActionCode,
		Metadata:           entry.Metadata,
		CreatedAt:          entry.CreatedAt.UTC(),
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode entry %s: %w", entry.ID, err)
	}
	return Message{
		RoutingKey: entry.ActionCode,
		MessageID:  entry.ID.String(),
		Timestamp:  entry.CreatedAt.UTC(),
		Headers: map[string]any{
			"claim_transaction_id": entry.ClaimTransactionID.String(),
			"actor_id":             entry.ActorID,
		},
		Body: body,
	}, nil
}
