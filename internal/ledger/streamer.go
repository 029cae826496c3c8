package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/postforge/autopost/internal/models"
	"github.com/postforge/autopost/internal/store"
)

// StreamerConfig configures the DB-first ledger streamer.
type StreamerConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxConcurrency int
	Logger         *log.Logger
}

// Streamer drains pending dispatch result rows to Kafka. The database is
// the source of truth for retries: rows are claimed (pending ->
// in_progress), produced, then marked streamed or failed. A row that
// fails stays visible in the ledger with its error recorded.
type Streamer struct {
	store    store.Store
	producer Producer
	cfg      StreamerConfig
	logger   *log.Logger
	wg       sync.WaitGroup
}

func NewStreamer(st store.Store, producer Producer, cfg StreamerConfig) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[ledger.streamer] ", log.LstdFlags)
	}
	return &Streamer{store: st, producer: producer, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled, polling for pending ledger rows and
// streaming each claimed batch with bounded concurrency.
func (s *Streamer) Run(ctx context.Context) error {
	s.logger.Printf("starting (batch=%d, concurrency=%d)", s.cfg.BatchSize, s.cfg.MaxConcurrency)
	defer s.logger.Printf("stopped")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return ctx.Err()
		default:
		}

		results, err := s.store.FetchPendingResultsForStreaming(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logger.Printf("fetch pending: %v", err)
			time.Sleep(s.cfg.PollInterval)
			continue
		}
		if len(results) == 0 {
			time.Sleep(s.cfg.PollInterval)
			continue
		}

		for _, res := range results {
			sem <- struct{}{}
			s.wg.Add(1)
			go func(res models.DispatchResult) {
				defer func() {
					<-sem
					s.wg.Done()
				}()
				if err := s.streamOne(ctx, res); err != nil {
					s.logger.Printf("stream result %s: %v", res.ID, err)
				}
			}(res)
		}
		s.wg.Wait()
	}
}

// StreamBatch drains a single batch synchronously. Used by tests and by
// one-shot drains at shutdown.
func (s *Streamer) StreamBatch(ctx context.Context) (int, error) {
	results, err := s.store.FetchPendingResultsForStreaming(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, res := range results {
		if err := s.streamOne(ctx, res); err != nil {
			s.logger.Printf("stream result %s: %v", res.ID, err)
		}
	}
	return len(results), nil
}

func (s *Streamer) streamOne(parentCtx context.Context, res models.DispatchResult) error {
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	value, err := json.Marshal(res)
	if err != nil {
		_ = s.store.MarkResultStreamResult(parentCtx, res.ID, false, nil, fmt.Sprintf("marshal result: %v", err))
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.producer.Produce(ctx, []byte(res.ID.String()), value); err != nil {
		_ = s.store.MarkResultStreamResult(parentCtx, res.ID, false, nil, fmt.Sprintf("kafka produce: %v", err))
		return fmt.Errorf("kafka produce: %w", err)
	}
	if err := s.store.MarkResultStreamResult(parentCtx, res.ID, true, nil, ""); err != nil {
		return fmt.Errorf("mark streamed: %w", err)
	}
	return nil
}
