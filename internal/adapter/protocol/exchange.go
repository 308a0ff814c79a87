package protocol

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ExchangeRecord is one completed agent-to-agent exchange kept for later
// inspection through the adapter's task listing route.
type ExchangeRecord struct {
	ID        string    `json:"id"`
	Protocol  string    `json:"protocol"`
	SenderID  string    `json:"sender_id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"created_at"`
}

// ExchangeStore is a bounded, TTL-evicting record table. Records expire
// after ttl, and when the table exceeds maxEntries the oldest records are
// dropped first. A background sweep runs on a fixed schedule so expired
// records do not linger between reads.
type ExchangeStore struct {
	mu      sync.RWMutex
	records map[string]ExchangeRecord
	order   []string

	maxEntries int
	ttl        time.Duration
	sweeper    *cron.Cron
	log        *slog.Logger
}

func NewExchangeStore(maxEntries int, ttl time.Duration, log *slog.Logger) *ExchangeStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &ExchangeStore{
		records:    make(map[string]ExchangeRecord),
		maxEntries: maxEntries,
		ttl:        ttl,
		log:        log,
	}

	s.sweeper = cron.New()
	_, err := s.sweeper.AddFunc("@every 1m", func() {
		if n := s.Sweep(time.Now()); n > 0 {
			log.Debug("exchange store sweep", "evicted", n)
		}
	})
	if err == nil {
		s.sweeper.Start()
	}
	return s
}

// Put stores a record, evicting the oldest entries if the table is full.
func (s *ExchangeStore) Put(rec ExchangeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec

	for len(s.order) > s.maxEntries {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
	}
}

// Get returns a record by id. Expired records are treated as absent even
// if a sweep has not yet removed them.
func (s *ExchangeStore) Get(id string) (ExchangeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || time.Since(rec.CreatedAt) > s.ttl {
		return ExchangeRecord{}, false
	}
	return rec, true
}

// Recent returns up to limit newest records, newest first.
func (s *ExchangeStore) Recent(limit int) []ExchangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ExchangeRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		rec, ok := s.records[s.order[i]]
		if !ok || time.Since(rec.CreatedAt) > s.ttl {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Len reports the number of stored records, expired or not.
func (s *ExchangeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Sweep removes every record older than the TTL relative to now and
// returns the number evicted.
func (s *ExchangeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	kept := s.order[:0]
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if now.Sub(rec.CreatedAt) > s.ttl {
			delete(s.records, id)
			evicted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return evicted
}

// Close stops the background sweeper.
func (s *ExchangeStore) Close() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
}
