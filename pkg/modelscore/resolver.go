package modelscore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ScoreFetcher is the service-facing side of the resolver; *Client satisfies
// it and tests substitute fakes.
type ScoreFetcher interface {
	GetScores(ctx context.Context, hadmIDs []string) (map[string]float64, error)
}

// Resolver resolves admission scores through a two-tier cache (in-memory LRU,
// then Redis) before reaching the scoring service. The service call runs
// behind a circuit breaker: when the breaker is open, cached scores are still
// served and uncached admissions resolve to "no score available".
type Resolver struct {
	fetcher ScoreFetcher

	memoryCache *lru.Cache    // Tier 1: hot scores
	redisCache  *redis.Client // Tier 2: shared across engine instances, optional

	redisTTL  time.Duration
	keyPrefix string

	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// ResolverConfig represents configuration for the score resolver
type ResolverConfig struct {
	MemorySize int           `json:"memory_size"`
	RedisTTL   time.Duration `json:"redis_ttl"`
	KeyPrefix  string        `json:"key_prefix"`
}

// NewResolver creates a new score resolver. redisCache may be nil, in which
// case only the in-memory tier is used.
func NewResolver(fetcher ScoreFetcher, redisCache *redis.Client, config ResolverConfig, logger *logrus.Logger) (*Resolver, error) {
	if config.MemorySize == 0 {
		config.MemorySize = 10000
	}
	if config.RedisTTL == 0 {
		config.RedisTTL = 24 * time.Hour
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "modelscore"
	}

	memoryCache, err := lru.New(config.MemorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "scoring-service",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Resolver{
		fetcher:     fetcher,
		memoryCache: memoryCache,
		redisCache:  redisCache,
		redisTTL:    config.RedisTTL,
		keyPrefix:   config.KeyPrefix,
		breaker:     breaker,
		logger:      logger,
	}, nil
}

// Resolve returns scores for as many of the given admissions as possible.
// Admissions with no cached score and an unreachable service are absent from
// the result; the caller treats absence as "no score available".
func (r *Resolver) Resolve(ctx context.Context, hadmIDs []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(hadmIDs))
	var misses []string

	for _, hadmID := range hadmIDs {
		if score, ok := r.getFromMemory(hadmID); ok {
			scores[hadmID] = score
			continue
		}
		if score, ok := r.getFromRedis(ctx, hadmID); ok {
			scores[hadmID] = score
			r.memoryCache.Add(hadmID, score)
			continue
		}
		misses = append(misses, hadmID)
	}

	if len(misses) == 0 {
		return scores, nil
	}

	fetched, err := r.breaker.Execute(func() (interface{}, error) {
		return r.fetcher.GetScores(ctx, misses)
	})
	if err != nil {
		// Cached scores are still usable; the uncached admissions just have
		// no score for this run.
		r.logger.WithFields(logrus.Fields{
			"misses": len(misses),
			"cached": len(scores),
			"error":  err,
		}).Warn("Scoring service unavailable, serving cached scores only")
		return scores, nil
	}

	for hadmID, score := range fetched.(map[string]float64) {
		scores[hadmID] = score
		r.memoryCache.Add(hadmID, score)
		r.setInRedis(ctx, hadmID, score)
	}

	r.logger.WithFields(logrus.Fields{
		"requested": len(hadmIDs),
		"resolved":  len(scores),
		"fetched":   len(misses),
	}).Info("Resolved model scores")

	return scores, nil
}

func (r *Resolver) getFromMemory(hadmID string) (float64, bool) {
	if value, ok := r.memoryCache.Get(hadmID); ok {
		if score, ok := value.(float64); ok {
			return score, true
		}
	}
	return 0, false
}

func (r *Resolver) getFromRedis(ctx context.Context, hadmID string) (float64, bool) {
	if r.redisCache == nil {
		return 0, false
	}
	raw, err := r.redisCache.Get(ctx, r.redisKey(hadmID)).Result()
	if err != nil {
		return 0, false
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

func (r *Resolver) setInRedis(ctx context.Context, hadmID string, score float64) {
	if r.redisCache == nil {
		return
	}
	key := r.redisKey(hadmID)
	value := strconv.FormatFloat(score, 'f', -1, 64)
	if err := r.redisCache.Set(ctx, key, value, r.redisTTL).Err(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"hadm_id": hadmID,
			"error":   err,
		}).Debug("Failed to populate redis score cache")
	}
}

func (r *Resolver) redisKey(hadmID string) string {
	return r.keyPrefix + ":" + hadmID
}
