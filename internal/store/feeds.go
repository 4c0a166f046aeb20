package store

import (
	"context"
	"fmt"
	"time"

	"studentcal/internal/ics"
	appLog "studentcal/internal/log"
	"studentcal/internal/metrics"
	"studentcal/internal/model"
	"studentcal/internal/schedule"
)

// FeedStore adds the occurrences of school-wide ICS feeds to the event
// source of an underlying store. A feed that cannot be fetched even from
// its disk cache, or cannot be parsed, is left out of that pass; the
// student's own events and the other feeds are still returned.
type FeedStore struct {
	schedule.Store

	fetcher *ics.Fetcher
	feeds   []ics.Feed
	loc     *time.Location
	horizon time.Duration
	now     func() time.Time
}

// WithFeeds wraps inner. When feeds is empty inner is returned unchanged.
func WithFeeds(inner schedule.Store, fetcher *ics.Fetcher, feeds []ics.Feed, loc *time.Location, horizon time.Duration) schedule.Store {
	if len(feeds) == 0 {
		return inner
	}
	if loc == nil {
		loc = time.UTC
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &FeedStore{
		Store:   inner,
		fetcher: fetcher,
		feeds:   feeds,
		loc:     loc,
		horizon: horizon,
		now:     time.Now,
	}
}

// QueryEvents returns the student's own events followed by every feed
// occurrence inside the expansion window.
func (s *FeedStore) QueryEvents(ctx context.Context, studentID string) ([]model.EventRecord, error) {
	own, err := s.Store.QueryEvents(ctx, studentID)
	if err != nil {
		return nil, err
	}

	// FetchAll logs every failing feed and returns the ones that answered.
	results, err := s.fetcher.FetchAll(ctx, s.feeds)
	if err != nil {
		answered := make(map[string]bool, len(results))
		for _, res := range results {
			answered[res.Feed.ID] = true
		}
		for _, f := range s.feeds {
			if !answered[f.ID] {
				metrics.FeedFailures.WithLabelValues(f.ID).Inc()
			}
		}
	}

	now := s.now()
	w := ics.Window{From: now.Add(-lookBack), To: now.Add(s.horizon)}
	out := own
	for _, res := range results {
		occs, err := expandFeed(res, s.loc, w)
		if err != nil {
			metrics.FeedFailures.WithLabelValues(res.Feed.ID).Inc()
			appLog.Error("ics feed skipped", err, "feed", res.Feed.ID, "student", studentID)
			continue
		}
		for _, o := range occs {
			rec := o.Record()
			rec.StudentID = studentID
			out = append(out, rec)
		}
	}
	return out, nil
}

func expandFeed(res ics.FetchResult, loc *time.Location, w ics.Window) ([]ics.Occurrence, error) {
	parsed, err := ics.Parse(res.Feed.ID, res.Body, loc)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return ics.Expand(parsed, w)
}
