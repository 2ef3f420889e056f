package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/medaudit/internal/config"
)

const (
	keyIngestProvider  = "claims:ingest:provider:%s"
	keyClassifyLock    = "claims:classify:lock:%s"
	defaultClassifyTTL = 30 * time.Second
)

// ClaimGuard throttles claim ingestion per provider and serializes
// classification runs per transaction. A nil guard allows everything.
type ClaimGuard struct {
	bucket *TokenBucket
	locker *Locker

	providerRate  float64
	providerBurst int
	lockTTL       time.Duration
}

// NewClaimGuard returns nil when Redis is not configured.
func NewClaimGuard(cfg config.Config, client *redis.Client) *ClaimGuard {
	if client == nil {
		return nil
	}
	lockTTL := cfg.ClassifyLockTTL
	if lockTTL <= 0 {
		lockTTL = defaultClassifyTTL
	}
	return &ClaimGuard{
		bucket:        NewTokenBucket(client),
		locker:        NewLocker(client),
		providerRate:  cfg.IngestProviderRate,
		providerBurst: cfg.IngestProviderBurst,
		lockTTL:       lockTTL,
	}
}

func (g *ClaimGuard) Enabled() bool {
	return g != nil
}

// AllowProvider spends one ingestion token for the provider NIT. A
// non-positive rate disables the throttle.
func (g *ClaimGuard) AllowProvider(ctx context.Context, providerNit string) (*RateLimitResult, error) {
	if !g.Enabled() || g.providerRate <= 0 || g.providerBurst <= 0 {
		return &RateLimitResult{Allowed: true}, nil
	}
	return g.bucket.Allow(ctx, fmt.Sprintf(keyIngestProvider, strings.TrimSpace(providerNit)), g.providerRate, g.providerBurst)
}

func (g *ClaimGuard) TryLockClassification(ctx context.Context, transactionID string) (string, bool, error) {
	if !g.Enabled() {
		return "", true, nil
	}
	return g.locker.TryLock(ctx, fmt.Sprintf(keyClassifyLock, strings.TrimSpace(transactionID)), g.lockTTL)
}

func (g *ClaimGuard) ReleaseClassification(ctx context.Context, transactionID, token string) error {
	if !g.Enabled() {
		return nil
	}
	return g.locker.Release(ctx, fmt.Sprintf(keyClassifyLock, strings.TrimSpace(transactionID)), token)
}
