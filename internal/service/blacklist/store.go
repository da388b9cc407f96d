package blacklist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"KHunter/pkg/cache"
	"KHunter/pkg/logger"
)

// Store reads the operator-managed exclusion set from a Redis set and
// serves membership checks from an in-memory snapshot. The snapshot is
// refreshed on a timer; the trading path never touches Redis directly.
type Store struct {
	cache   *cache.RedisCache
	key     string
	refresh time.Duration
	log     *logger.Logger

	mu  sync.RWMutex
	set map[string]struct{}
}

func New(c *cache.RedisCache, key string, refresh time.Duration, log *logger.Logger) *Store {
	return &Store{
		cache:   c,
		key:     key,
		refresh: refresh,
		log:     log,
		set:     make(map[string]struct{}),
	}
}

// Load reads the full exclusion set from Redis.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	codes, err := s.cache.SetMembers(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("blacklist smembers %s: %w", s.key, err)
	}
	return codes, nil
}

// Add bars a stock and refreshes the snapshot immediately.
func (s *Store) Add(ctx context.Context, stockCode string) error {
	if err := s.cache.AddMember(ctx, s.key, stockCode); err != nil {
		return fmt.Errorf("blacklist add %s: %w", stockCode, err)
	}
	s.mu.Lock()
	s.set[stockCode] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Remove clears a stock from the set and the snapshot.
func (s *Store) Remove(ctx context.Context, stockCode string) error {
	if err := s.cache.RemoveMember(ctx, s.key, stockCode); err != nil {
		return fmt.Errorf("blacklist remove %s: %w", stockCode, err)
	}
	s.mu.Lock()
	delete(s.set, stockCode)
	s.mu.Unlock()
	return nil
}

// Codes returns the snapshot contents.
func (s *Store) Codes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.set))
	for code := range s.set {
		out = append(out, code)
	}
	return out
}

// Blacklisted answers from the last refreshed snapshot.
func (s *Store) Blacklisted(stockCode string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[stockCode]
	return ok
}

// Size returns the snapshot cardinality.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// RefreshOnce replaces the snapshot with the current Redis contents. On
// error the previous snapshot stays in force.
func (s *Store) RefreshOnce(ctx context.Context) error {
	codes, err := s.Load(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		next[code] = struct{}{}
	}
	s.mu.Lock()
	s.set = next
	s.mu.Unlock()
	return nil
}

// Run refreshes the snapshot periodically until ctx is canceled.
func (s *Store) Run(ctx context.Context) error {
	if err := s.RefreshOnce(ctx); err != nil {
		s.log.Warn("initial blacklist load failed", logger.Error(err))
	} else {
		s.log.Info("blacklist loaded", logger.Int("size", s.Size()))
	}

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RefreshOnce(ctx); err != nil {
				s.log.Warn("blacklist refresh failed", logger.Error(err))
			}
		}
	}
}
