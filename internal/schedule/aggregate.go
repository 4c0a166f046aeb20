// Package schedule turns the four student source collections into one
// unified, filterable event list.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studentcal/internal/cache"
	appLog "studentcal/internal/log"
	"studentcal/internal/metrics"
	"studentcal/internal/model"
)

// ErrSourceUnavailable is matched by every SourceError.
var ErrSourceUnavailable = errors.New("source unavailable")

// SourceError reports that the query for one source kind failed.
type SourceError struct {
	Kind model.Kind
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source unavailable: %v", e.Kind, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// Store is the collaborator contract: one query per source collection,
// each already restricted to the student's active records.
type Store interface {
	QueryClasses(ctx context.Context, studentID string) ([]model.ClassRecord, error)
	QueryAssignments(ctx context.Context, studentID string) ([]model.AssignmentRecord, error)
	QueryExams(ctx context.Context, studentID string) ([]model.ExamRecord, error)
	QueryEvents(ctx context.Context, studentID string) ([]model.EventRecord, error)
}

// Result is the outcome of one aggregation pass.
type Result struct {
	StudentID string
	Events    []model.CalendarEvent

	// Failed lists the kinds whose query failed; they contributed nothing.
	Failed []model.Kind
	// Dropped is the number of malformed records skipped in this pass.
	Dropped int
	// Err joins the SourceErrors of this pass, nil when all sources loaded.
	Err error
}

// Aggregator loads and normalizes a student's events through a
// time-bounded cache keyed by (kind, student).
type Aggregator struct {
	store Store
	cache *cache.Cache[[]model.Record]
	norm  *Normalizer
}

// NewAggregator creates an Aggregator. ttl bounds how long query results
// are reused; loc is used for zone-less record timestamps.
func NewAggregator(store Store, ttl time.Duration, loc *time.Location, opts ...cache.Option[[]model.Record]) *Aggregator {
	return &Aggregator{
		store: store,
		cache: cache.New[[]model.Record](ttl, opts...),
		norm:  NewNormalizer(loc),
	}
}

// CacheKey is the cache key for one source of one student.
func CacheKey(kind model.Kind, studentID string) string {
	return string(kind) + ":" + studentID
}

// Normalizer returns the aggregator's normalizer, for its drop counter.
func (a *Aggregator) Normalizer() *Normalizer {
	return a.norm
}

// Invalidate forgets cached query results for the student, so the next
// Load re-queries every source.
func (a *Aggregator) Invalidate(studentID string) {
	keys := make([]string, 0, len(model.Kinds))
	for _, k := range model.Kinds {
		keys = append(keys, CacheKey(k, studentID))
	}
	a.cache.Invalidate(keys...)
}

// Load queries all four sources concurrently and waits for every one of
// them to settle before normalizing. A failed source is logged once as a
// warning for the pass and contributes zero events; it never aborts the
// others.
func (a *Aggregator) Load(ctx context.Context, studentID string) Result {
	type sourceResult struct {
		records []model.Record
		err     error
	}

	results := make([]sourceResult, len(model.Kinds))
	var wg sync.WaitGroup
	for i, kind := range model.Kinds {
		wg.Add(1)
		go func(i int, kind model.Kind) {
			defer wg.Done()
			recs, err := a.fetch(ctx, kind, studentID)
			results[i] = sourceResult{records: recs, err: err}
		}(i, kind)
	}
	wg.Wait()

	res := Result{StudentID: studentID}
	var errs []error
	for i, kind := range model.Kinds {
		r := results[i]
		if r.err != nil {
			res.Failed = append(res.Failed, kind)
			errs = append(errs, r.err)
			metrics.SourceFailures.WithLabelValues(string(kind)).Inc()
			continue
		}
		events, dropped := a.norm.NormalizeAll(r.records)
		res.Events = append(res.Events, events...)
		res.Dropped += dropped
	}
	res.Err = errors.Join(errs...)

	if res.Err != nil {
		appLog.Warn("aggregation: some sources unavailable",
			"student", studentID,
			"failed", res.Failed,
			"err", res.Err,
		)
	}
	if res.Dropped > 0 {
		appLog.Debug("aggregation: malformed records dropped", "student", studentID, "count", res.Dropped)
	}
	metrics.AggregationPasses.Inc()

	appLog.Debug("aggregation completed",
		"student", studentID,
		"event_count", len(res.Events),
		"failed_sources", len(res.Failed),
	)
	return res
}

func (a *Aggregator) fetch(ctx context.Context, kind model.Kind, studentID string) ([]model.Record, error) {
	key := CacheKey(kind, studentID)
	if recs, ok := a.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return recs, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	recs, err := a.query(ctx, kind, studentID)
	if err != nil {
		return nil, &SourceError{Kind: kind, Err: err}
	}
	a.cache.Set(key, recs)
	return recs, nil
}

func (a *Aggregator) query(ctx context.Context, kind model.Kind, studentID string) ([]model.Record, error) {
	switch kind {
	case model.KindClass:
		rs, err := a.store.QueryClasses(ctx, studentID)
		return toRecords(rs), err
	case model.KindAssignment:
		rs, err := a.store.QueryAssignments(ctx, studentID)
		return toRecords(rs), err
	case model.KindExam:
		rs, err := a.store.QueryExams(ctx, studentID)
		return toRecords(rs), err
	case model.KindEvent:
		rs, err := a.store.QueryEvents(ctx, studentID)
		return toRecords(rs), err
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

func toRecords[T model.Record](in []T) []model.Record {
	out := make([]model.Record, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}
