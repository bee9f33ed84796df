package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/databyte/databyte/mlog"
	"github.com/databyte/databyte/store"
)

// Stats summarizes a RecomputeAll.
type Stats struct {
	Types    int // With a storage total.
	Records  int
	Changed  int // Records whose stored total was different.
	Duration time.Duration
}

// RecomputeAll computes the total of each record of each type with a storage
// total, and stores the totals that changed. Parents are not notified: child
// cost does not depend on stored totals, so all totals are correct afterwards
// regardless of order. Used to repair totals after records were changed
// without a Trigger, e.g. by an older version or another program.
func RecomputeAll(ctx context.Context, log mlog.Log, st *store.Store, c *Computer) (Stats, error) {
	log = log.WithContext(ctx)
	start := time.Now()
	var stats Stats
	err := st.Write(ctx, func(tx *store.Tx) error {
		for _, t := range c.Registry.Types() {
			if !t.Trackable() {
				continue
			}
			stats.Types++

			// Updates are done after iterating, not while the type is being read.
			var changed []any
			err := t.ForEach(tx.Tx, func(v any) error {
				stats.Records++
				b, err := c.Compute(tx, v)
				if err != nil {
					return err
				}
				rv, err := t.Struct(v)
				if err != nil {
					return err
				}
				if t.Total.Field.Int(rv) == b.Total() {
					return nil
				}
				log.Debug("storage total changed",
					slog.String("type", t.Name),
					slog.Any("pk", t.PK.Value(rv)),
					slog.Int64("old", t.Total.Field.Int(rv)),
					slog.Int64("new", b.Total()))
				t.Total.Field.SetInt(rv, b.Total())
				changed = append(changed, v)
				return nil
			})
			if err != nil {
				return fmt.Errorf("recomputing %s: %w", t.Name, err)
			}
			for _, v := range changed {
				if err := tx.Tx.Update(v); err != nil {
					return fmt.Errorf("storing total for %s: %w", t.Name, err)
				}
				metricRecompute.WithLabelValues(t.Name).Inc()
			}
			stats.Changed += len(changed)
		}
		return nil
	})
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}
	log.Info("recomputed storage totals",
		slog.Int("types", stats.Types),
		slog.Int("records", stats.Records),
		slog.Int("changed", stats.Changed),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}
