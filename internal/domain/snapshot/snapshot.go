// Package snapshot captures restorable copies of league tables.
//
// A snapshot is immutable once written. Restore verifies a snapshot's
// structural integrity before replacing the current rows in one atomic write,
// so a failed restore leaves the table untouched.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals // codec

// Store is the part of the entity repository snapshots need.
type Store interface {
	Table(ctx context.Context, key model.Key) ([]model.TableEntry, error)
	ReplaceTable(ctx context.Context, key model.Key, entries []model.TableEntry) error
	SaveSnapshot(ctx context.Context, s *model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context, key model.Key) ([]model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Archiver keeps a copy of snapshots before retention deletes them.
type Archiver interface {
	Archive(ctx context.Context, s *model.Snapshot) error
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithArchiver archives snapshots before pruning.
func WithArchiver(a Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service implements capture, restore, listing and retention.
type Service struct {
	store    Store
	archiver Archiver
	logger   logger.Logger
	now      func() time.Time
}

// New creates a snapshot Service over store.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture copies the current rows of key into a new snapshot.
func (s *Service) Capture(ctx context.Context, key model.Key, description, createdBy string) (*model.Snapshot, error) {
	const op = "snapshot.capture"
	if !key.Valid() {
		return nil, errs.Validationf(op, "league and season are required")
	}
	entries, err := s.store.Table(ctx, key)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	sum, err := Checksum(entries)
	if err != nil {
		return nil, errs.System(op, err)
	}
	snap := &model.Snapshot{
		ID:          uuid.NewString(),
		LeagueID:    key.LeagueID,
		SeasonID:    key.SeasonID,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   s.now().UTC(),
		Checksum:    sum,
		Entries:     entries,
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, errs.Wrap(op, err)
	}
	metrics.RecordSnapshotCaptured()
	s.logger.Debug(ctx, "snapshot captured",
		logger.String("snapshot_id", snap.ID),
		logger.String("key", key.String()),
		logger.Int("entries", len(entries)),
	)
	return snap, nil
}

// Restore verifies the snapshot and atomically replaces the current rows of
// its league/season with the snapshot's rows.
func (s *Service) Restore(ctx context.Context, id string) (*model.Snapshot, error) {
	const op = "snapshot.restore"
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	if err := Verify(snap); err != nil {
		return nil, errs.WrapKind(op, errs.ErrConsistency, err)
	}
	if err := s.store.ReplaceTable(ctx, snap.Key(), snap.Entries); err != nil {
		return nil, errs.Wrap(op, err)
	}
	metrics.RecordSnapshotRestored()
	s.logger.Info(ctx, "snapshot restored",
		logger.String("snapshot_id", snap.ID),
		logger.String("key", snap.Key().String()),
		logger.Int("entries", len(snap.Entries)),
	)
	return snap, nil
}

// Get returns one snapshot.
func (s *Service) Get(ctx context.Context, id string) (*model.Snapshot, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	return snap, errs.Wrap("snapshot.get", err)
}

// List returns the snapshots of key, newest first.
func (s *Service) List(ctx context.Context, key model.Key) ([]model.Snapshot, error) {
	list, err := s.store.ListSnapshots(ctx, key)
	if err != nil {
		return nil, errs.Wrap("snapshot.list", err)
	}
	sortNewestFirst(list)
	return list, nil
}

// Delete removes one snapshot.
func (s *Service) Delete(ctx context.Context, id string) error {
	return errs.Wrap("snapshot.delete", s.store.DeleteSnapshot(ctx, id))
}

// Prune deletes snapshots older than maxAge. The newest snapshot of every
// league/season is kept regardless of age so each table stays restorable.
// Snapshots are archived before deletion when an archiver is configured; an
// archive failure keeps the snapshot.
func (s *Service) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	const op = "snapshot.prune"
	if maxAge <= 0 {
		return 0, errs.Validationf(op, "max age must be positive")
	}
	all, err := s.store.ListSnapshots(ctx, model.Key{})
	if err != nil {
		return 0, errs.Wrap(op, err)
	}
	sortNewestFirst(all)

	cutoff := s.now().Add(-maxAge)
	newest := map[model.Key]bool{}
	pruned := 0
	for i := range all {
		snap := &all[i]
		if !newest[snap.Key()] {
			newest[snap.Key()] = true
			continue
		}
		if !snap.CreatedAt.Before(cutoff) {
			continue
		}
		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, snap); err != nil {
				s.logger.Warn(ctx, "snapshot archive failed, keeping it", logger.String("snapshot_id", snap.ID), logger.Error(err))
				continue
			}
			metrics.RecordSnapshotArchived()
		}
		if err := s.store.DeleteSnapshot(ctx, snap.ID); err != nil {
			return pruned, errs.Wrap(op, err)
		}
		pruned++
	}
	metrics.RecordSnapshotsPruned(pruned)
	s.logger.Info(ctx, "snapshots pruned", logger.Int("pruned", pruned), logger.Duration("max_age", maxAge))
	return pruned, nil
}

func sortNewestFirst(list []model.Snapshot) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// Checksum hashes the canonical JSON encoding of entries.
func Checksum(entries []model.TableEntry) (uint64, error) {
	if entries == nil {
		entries = []model.TableEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(b), nil
}

// Verify checks that a snapshot can be restored: matching checksum, rows of
// its own league/season only, unique teams, consecutive ranks and valid row
// arithmetic.
func Verify(s *model.Snapshot) error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if !s.Key().Valid() {
		return fmt.Errorf("snapshot %s has no league/season", s.ID)
	}
	sum, err := Checksum(s.Entries)
	if err != nil {
		return err
	}
	if sum != s.Checksum {
		return fmt.Errorf("snapshot %s checksum mismatch: stored %x, computed %x", s.ID, s.Checksum, sum)
	}
	seen := make(map[string]bool, len(s.Entries))
	ranks := make(map[int]bool, len(s.Entries))
	for i := range s.Entries {
		e := &s.Entries[i]
		if e.Key() != s.Key() {
			return fmt.Errorf("snapshot %s: row for team %s belongs to %s", s.ID, e.TeamID, e.Key())
		}
		if seen[e.TeamID] {
			return fmt.Errorf("snapshot %s: duplicate team %s", s.ID, e.TeamID)
		}
		seen[e.TeamID] = true
		if e.Rank < 1 || e.Rank > len(s.Entries) || ranks[e.Rank] {
			return fmt.Errorf("snapshot %s: invalid rank %d for team %s", s.ID, e.Rank, e.TeamID)
		}
		ranks[e.Rank] = true
		if err := e.CheckInvariants(); err != nil {
			return fmt.Errorf("snapshot %s: %w", s.ID, err)
		}
	}
	return nil
}
