package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelsync/cdc-relay/internal/changelog"
	"github.com/sentinelsync/cdc-relay/internal/materialize"
	"github.com/sentinelsync/cdc-relay/internal/merge"
	"github.com/sentinelsync/cdc-relay/internal/models"
	"github.com/sentinelsync/cdc-relay/pkg/metrics"
)

// CursorStore is the durable home of outbox cursor rows and the
// last-published hash set. Implementations provide per-row optimistic
// concurrency: updates against a stale Version fail with
// models.ErrVersionConflict.
type CursorStore interface {
	// Incomplete returns every incomplete cursor row for a tracked set.
	// The sweep treats more than one as fatal corruption.
	Incomplete(ctx context.Context, trackedSet string) ([]models.ChangeCursor, error)

	// Latest returns the most recently completed cursor for a tracked set,
	// or nil when the set has never been swept.
	Latest(ctx context.Context, trackedSet string) (*models.ChangeCursor, error)

	// Get returns one cursor by id, models.ErrCursorNotFound when missing.
	Get(ctx context.Context, id int64) (*models.ChangeCursor, error)

	// Create persists a new incomplete cursor row and assigns its ID.
	Create(ctx context.Context, cursor *models.ChangeCursor) error

	// CompleteSweep atomically marks the cursor complete, stamps
	// CompletedAt, upserts the published hashes and removes hashes for
	// deleted keys.
	CompleteSweep(ctx context.Context, cursor *models.ChangeCursor, hashes map[string]uint64, removed []string) error

	// MarkComplete marks the cursor complete without touching hashes.
	// Used by the manual completion path.
	MarkComplete(ctx context.Context, cursor *models.ChangeCursor) error

	// Hashes returns the last published hash for each requested key.
	// Keys never published are absent from the result.
	Hashes(ctx context.Context, trackedSet string, keys []string) (map[string]uint64, error)
}

// EventPublisher accepts one ordered batch of domain events. The batch is
// either fully accepted or the sweep treats it as failed and resumes later.
type EventPublisher interface {
	Publish(ctx context.Context, events []models.DomainEvent) error
}

// SweepResult summarizes one sweep for callers and tests.
type SweepResult struct {
	Cursor     *models.ChangeCursor
	Events     []models.DomainEvent
	Changes    int
	Suppressed int
	Resumed    bool
}

// Sweeper runs the full pipeline for one tracked table-set: read cursor,
// read change log, correlate, materialize, publish, commit. Sweeps for the
// same set must be invoked serially; independent sets may sweep
// concurrently with no shared state.
type Sweeper struct {
	spec         merge.SetSpec
	store        CursorStore
	reader       *changelog.Reader
	merger       *merge.Merger
	materializer *materialize.Materializer
	publisher    EventPublisher
	source       changelog.Source
	maxBatch     int
	logger       *slog.Logger
}

func NewSweeper(spec merge.SetSpec, store CursorStore, reader *changelog.Reader, merger *merge.Merger, mat *materialize.Materializer, pub EventPublisher, source changelog.Source, maxBatch int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		spec:         spec,
		store:        store,
		reader:       reader,
		merger:       merger,
		materializer: mat,
		publisher:    pub,
		source:       source,
		maxBatch:     maxBatch,
		logger:       logger,
	}
}

// Sweep executes one full cycle. A failure before the cursor row is written
// leaves no trace; a failure after leaves the row incomplete, and the next
// Sweep resumes the same window idempotently.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
		metrics.SweepsTotal.WithLabelValues(status, s.spec.Name).Inc()
	}()

	cursor, resumed, err := s.loadCursor(ctx)
	if err != nil {
		if errors.Is(err, models.ErrCursorConflict) {
			status = "cursor_conflict"
		}
		return SweepResult{}, err
	}

	window, rows, err := s.reader.ReadChanges(ctx, cursor, s.maxBatch)
	if err != nil {
		if errors.Is(err, models.ErrDataLoss) {
			status = "data_loss"
		}
		return SweepResult{}, err
	}

	if resumed {
		// The log may have truncated into the recorded window since the
		// crash; completion persists the flag.
		if window.HasDataLoss {
			cursor.HasDataLoss = true
		}
	} else {
		if len(rows) == 0 && window.Empty() {
			status = "empty"
			return SweepResult{}, nil
		}
		cursor = &models.ChangeCursor{
			TrackedSet:  s.spec.Name,
			Ranges:      window.Ranges,
			HasDataLoss: window.HasDataLoss,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.Create(ctx, cursor); err != nil {
			return SweepResult{}, fmt.Errorf("cursor create failed: %w", err)
		}
	}

	result, err := s.produce(ctx, cursor, rows)
	if err != nil {
		return SweepResult{}, err
	}
	result.Resumed = resumed

	s.observe(result, rows)
	status = "completed"
	return result, nil
}

// loadCursor finds the sweep's starting cursor: a single incomplete row to
// resume, the latest complete row as the fresh resume point, or nil for a
// first-ever sweep.
func (s *Sweeper) loadCursor(ctx context.Context) (*models.ChangeCursor, bool, error) {
	incomplete, err := s.store.Incomplete(ctx, s.spec.Name)
	if err != nil {
		return nil, false, fmt.Errorf("incomplete cursor scan failed: %w", err)
	}

	switch len(incomplete) {
	case 0:
		latest, err := s.store.Latest(ctx, s.spec.Name)
		if err != nil {
			return nil, false, fmt.Errorf("latest cursor lookup failed: %w", err)
		}
		return latest, false, nil
	case 1:
		s.logger.Warn("Previous sweep did not complete, resuming its window",
			"cursor_id", incomplete[0].ID,
			"tracked_set", s.spec.Name,
		)
		return &incomplete[0], true, nil
	default:
		s.logger.Error("Cursor corruption: concurrent sweeps detected",
			"tracked_set", s.spec.Name,
			"incomplete_rows", len(incomplete),
		)
		return nil, false, fmt.Errorf("%d incomplete rows for %s: %w", len(incomplete), s.spec.Name, models.ErrCursorConflict)
	}
}

// produce runs correlate → materialize → publish → commit for an already
// persisted incomplete cursor.
func (s *Sweeper) produce(ctx context.Context, cursor *models.ChangeCursor, rows []models.ChangeRow) (SweepResult, error) {
	changes, err := s.merger.Correlate(ctx, rows)
	if err != nil {
		return SweepResult{}, fmt.Errorf("correlation failed: %w", err)
	}

	keys := make([]string, 0, len(changes))
	for _, ch := range changes {
		keys = append(keys, ch.Key)
	}
	lastHashes, err := s.store.Hashes(ctx, s.spec.Name, keys)
	if err != nil {
		return SweepResult{}, fmt.Errorf("published-hash lookup failed: %w", err)
	}

	mat := s.materializer.Materialize(changes, lastHashes)

	if len(mat.Events) > 0 {
		if err := s.publisher.Publish(ctx, mat.Events); err != nil {
			// Cursor stays incomplete; the next sweep re-reads the same
			// window and hash suppression keeps re-sends minimal.
			return SweepResult{}, fmt.Errorf("publish failed, sweep will resume: %w", err)
		}
	}

	hashes := make(map[string]uint64, len(changes))
	var removed []string
	for _, ch := range changes {
		if ch.Op == models.OpDelete {
			removed = append(removed, ch.Key)
			continue
		}
		hashes[ch.Key] = ch.Hash
	}

	if err := s.store.CompleteSweep(ctx, cursor, hashes, removed); err != nil {
		return SweepResult{}, fmt.Errorf("cursor completion failed: %w", err)
	}

	return SweepResult{
		Cursor:     cursor,
		Events:     mat.Events,
		Changes:    len(changes),
		Suppressed: mat.Suppressed,
	}, nil
}

func (s *Sweeper) observe(res SweepResult, rows []models.ChangeRow) {
	metrics.LogicalChanges.Observe(float64(res.Changes))
	for _, ev := range res.Events {
		metrics.EventsEmitted.WithLabelValues(string(ev.Action), s.spec.Name).Inc()
	}
	metrics.EventsSuppressed.Add(float64(res.Suppressed))

	if head, err := s.source.MaxLSN(context.Background()); err == nil {
		metrics.ChangeLogBacklog.Set(float64(head) - float64(res.Cursor.MaxLSN()))
	}

	s.logger.Info("Sweep cycle complete",
		"tracked_set", s.spec.Name,
		"rows", len(rows),
		"changes", res.Changes,
		"events", len(res.Events),
		"suppressed", res.Suppressed,
		"resumed", res.Resumed,
	)
}
