package ctl

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
)

// LoadConfig drives a load run against a live service.
type LoadConfig struct {
	Key     model.Key
	Matches int
	Workers int
	// Poll is the queue polling interval while waiting for the workers.
	Poll time.Duration
}

// LoadStats summarises a load run.
type LoadStats struct {
	Generated    int           `json:"generated"`
	Submitted    int64         `json:"submitted"`
	Created      int64         `json:"created"`
	Duplicate    int64         `json:"duplicate"`
	Failed       int64         `json:"failed"`
	PlayedBefore int           `json:"played_before"`
	PlayedAfter  int           `json:"played_after"`
	Duration     time.Duration `json:"duration"`
	Problems     []string      `json:"problems,omitempty"`
}

// goalWeights skews generated scores towards realistic results.
var goalWeights = []int{0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 3, 3, 4, 5}

// RunLoad posts cfg.Matches finished matches between the teams of cfg.Key
// concurrently, waits until the queue is idle and checks that the table
// absorbed every created match.
func RunLoad(ctx context.Context, c *Client, cfg LoadConfig, log logger.Logger) (*LoadStats, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	start := time.Now()
	stats := &LoadStats{}

	if err := c.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}
	before, err := currentTable(ctx, c, cfg)
	if err != nil {
		return nil, err
	}
	if len(before) < 2 {
		return nil, fmt.Errorf("%w: %s has %d teams, need at least 2", ErrInvalidFixture, cfg.Key, len(before))
	}
	stats.PlayedBefore = totalPlayed(before)

	matches := generateMatches(cfg.Key, before, cfg.Matches)
	stats.Generated = len(matches)
	log.Info(ctx, "submitting matches", logger.Int("matches", len(matches)), logger.Int("workers", cfg.Workers))
	submitMatches(ctx, c, cfg.Workers, matches, stats, log)
	log.Info(ctx, "submission completed",
		logger.Int64("created", stats.Created),
		logger.Int64("duplicate", stats.Duplicate),
		logger.Int64("failed", stats.Failed),
	)

	if err := c.WaitIdle(ctx, cfg.Poll); err != nil {
		return stats, fmt.Errorf("waiting for the queue: %w", err)
	}
	after, err := c.Table(ctx, cfg.Key)
	if err != nil {
		return stats, err
	}
	stats.PlayedAfter = totalPlayed(after)
	stats.Duration = time.Since(start)

	stats.Problems = checkTable(after)
	if want := stats.PlayedBefore + 2*int(stats.Created); stats.PlayedAfter != want {
		stats.Problems = append(stats.Problems, fmt.Sprintf("played: expected %d, table has %d", want, stats.PlayedAfter))
	}
	if len(stats.Problems) > 0 {
		return stats, ErrMismatch
	}
	return stats, nil
}

// currentTable returns the table of key, asking for a first calculation
// when none has been stored yet.
func currentTable(ctx context.Context, c *Client, cfg LoadConfig) ([]model.TableEntry, error) {
	rows, err := c.Table(ctx, cfg.Key)
	if err != nil || len(rows) > 0 {
		return rows, err
	}
	if _, err := c.Trigger(ctx, cfg.Key, "", "load test baseline"); err != nil {
		return nil, err
	}
	if err := c.WaitIdle(ctx, cfg.Poll); err != nil {
		return nil, err
	}
	return c.Table(ctx, cfg.Key)
}

func generateMatches(key model.Key, table []model.TableEntry, n int) []model.Match {
	out := make([]model.Match, 0, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		h := rand.Intn(len(table))
		a := rand.Intn(len(table) - 1)
		if a >= h {
			a++
		}
		out = append(out, model.Match{
			LeagueID:    key.LeagueID,
			SeasonID:    key.SeasonID,
			HomeTeamID:  table[h].TeamID,
			AwayTeamID:  table[a].TeamID,
			ScheduledAt: now.Add(-time.Duration(n-i) * time.Minute),
			Status:      model.StatusFinished,
			HomeScore:   model.Score(goalWeights[rand.Intn(len(goalWeights))]),
			AwayScore:   model.Score(goalWeights[rand.Intn(len(goalWeights))]),
		})
	}
	return out
}

func submitMatches(ctx context.Context, c *Client, workers int, matches []model.Match, stats *LoadStats, log logger.Logger) {
	ch := make(chan *model.Match, workers*2)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range ch {
				atomic.AddInt64(&stats.Submitted, 1)
				res, err := c.SaveMatch(ctx, m, uuid.NewString())
				switch {
				case err != nil:
					atomic.AddInt64(&stats.Failed, 1)
					var apiErr *APIError
					if !errors.As(err, &apiErr) || apiErr.Status >= 500 {
						log.Warn(ctx, "match submission failed", logger.Error(err))
					}
				case res.Duplicate:
					atomic.AddInt64(&stats.Duplicate, 1)
				default:
					atomic.AddInt64(&stats.Created, 1)
				}
			}
		}()
	}

	go func() {
		defer close(ch)
		for i := range matches {
			select {
			case <-ctx.Done():
				return
			case ch <- &matches[i]:
			}
		}
	}()
	wg.Wait()
}

func totalPlayed(rows []model.TableEntry) int {
	n := 0
	for _, r := range rows {
		n += r.Played
	}
	return n
}

// checkTable verifies row invariants and that ranks run 1..n.
func checkTable(rows []model.TableEntry) []string {
	var out []string
	for i := range rows {
		if err := rows[i].CheckInvariants(); err != nil {
			out = append(out, err.Error())
		}
		if rows[i].Rank != i+1 {
			out = append(out, fmt.Sprintf("row %d has rank %d", i+1, rows[i].Rank))
		}
	}
	return out
}
