package usage

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mjl-/bstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/databyte/databyte/metrics"
	"github.com/databyte/databyte/mlog"
	"github.com/databyte/databyte/schema"
	"github.com/databyte/databyte/store"
)

var (
	metricErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databyte_usage_errors_total",
			Help: "Number of failures maintaining storage totals, by operation.",
		},
		[]string{
			"op", // compute, persist, getparent, saveparent, panic
		},
	)
	metricRecompute = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databyte_usage_recompute_total",
			Help: "Number of storage totals recomputed, by record type.",
		},
		[]string{
			"type",
		},
	)
	metricRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "databyte_usage_recompute_duration_seconds",
			Help:    "Time to compute and persist a storage total, including parents.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// Trigger keeps storage totals up to date. It is registered as observer with
// a store.Store.
//
// When a record with a storage total is saved, its total is computed and
// persisted. If the record counts toward its parents, each storage parent with
// a storage total is saved too, recomputing its total in turn. If an update
// moved the record to another storage parent, the previous parent is saved as
// well. When such a record is deleted, only its parents are saved.
//
// Failures are logged and counted, never returned: the write that caused them
// goes through, with a possibly stale total.
type Trigger struct {
	Computer *Computer
	Log      mlog.Log

	mu     sync.Mutex
	active map[*bstore.Tx]map[key]bool // Records being recomputed, per transaction.
}

var _ store.Observer = (*Trigger)(nil)

// NewTrigger returns a trigger computing totals with c.
func NewTrigger(log mlog.Log, c *Computer) *Trigger {
	return &Trigger{Computer: c, Log: log, active: map[*bstore.Tx]map[key]bool{}}
}

// enter marks the record as being recomputed in tx. If it already is, false is
// returned: a cycle through storage parents led back to it.
func (tr *Trigger) enter(tx *store.Tx, k key) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	m := tr.active[tx.Tx]
	if m == nil {
		m = map[key]bool{}
		tr.active[tx.Tx] = m
	}
	if m[k] {
		return false
	}
	m[k] = true
	return true
}

func (tr *Trigger) leave(tx *store.Tx, k key) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	m := tr.active[tx.Tx]
	delete(m, k)
	if len(m) == 0 {
		delete(tr.active, tx.Tx)
	}
}

// Saved recomputes and persists the total of v, then saves its storage
// parents, both current and, for updates, those v was linked to before.
func (tr *Trigger) Saved(tx *store.Tx, old, v any) {
	t := tr.Computer.Registry.TypeOf(v)
	if t == nil || !t.Trackable() {
		return
	}
	log := tr.Log.WithContext(tx.Context())

	rv, err := t.Struct(v)
	if err != nil {
		metricErrors.WithLabelValues("compute").Inc()
		log.Errorx("storage total of saved record", err)
		return
	}
	pk := t.PK.Value(rv)
	if !rv.CanSet() {
		metricErrors.WithLabelValues("persist").Inc()
		log.Error("storage total of saved record not settable, record must be passed as pointer", slog.String("type", t.Name), slog.Any("pk", pk))
		return
	}
	k := key{t, pk}
	if !tr.enter(tx, k) {
		metricCycles.Inc()
		log.Error("cycle in storage parents, not recomputing record again", slog.String("type", t.Name), slog.Any("pk", pk))
		return
	}
	defer tr.leave(tx, k)

	defer func() {
		x := recover()
		if x != nil {
			log.Error("recomputing storage panic", slog.String("type", t.Name), slog.Any("pk", pk), slog.Any("panic", x))
			debug.PrintStack()
			metrics.PanicInc(metrics.Usage)
			metricErrors.WithLabelValues("panic").Inc()
		}
	}()

	start := time.Now()
	defer func() {
		metricRecomputeDuration.Observe(float64(time.Since(start)) / float64(time.Second))
	}()

	if err := tr.persist(tx, t, v); err != nil {
		log.Errorx("updating storage total", err, slog.String("type", t.Name), slog.Any("pk", pk))
	}
	if t.IncludeInParentsCount() {
		tr.notifyParents(tx, log, t, v)
		if old != nil {
			tr.notifyPreviousParents(tx, log, t, old, v)
		}
	}
}

// Deleted saves the storage parents of v.
func (tr *Trigger) Deleted(tx *store.Tx, v any) {
	t := tr.Computer.Registry.TypeOf(v)
	if t == nil || !t.IncludeInParentsCount() {
		return
	}
	tr.notifyParents(tx, tr.Log.WithContext(tx.Context()), t, v)
}

// persist computes the total of v and stores it, without notifying observers.
func (tr *Trigger) persist(tx *store.Tx, t *schema.Type, v any) error {
	b, err := tr.Computer.Compute(tx, v)
	if err != nil {
		metricErrors.WithLabelValues("compute").Inc()
		return err
	}
	rv, err := t.Struct(v)
	if err != nil {
		metricErrors.WithLabelValues("compute").Inc()
		return err
	}
	t.Total.Field.SetInt(rv, b.Total())
	if err := tx.Tx.Update(v); err != nil {
		metricErrors.WithLabelValues("persist").Inc()
		return fmt.Errorf("persist: %w", err)
	}
	metricRecompute.WithLabelValues(t.Name).Inc()
	tr.Log.Debug("storage total updated",
		slog.String("type", t.Name),
		slog.Any("pk", t.PK.Value(rv)),
		slog.Int64("own", b.Own),
		slog.Int64("external", b.External),
		slog.Int64("files", b.Files),
		slog.Int64("children", b.Children),
		slog.Int64("total", b.Total()))
	return nil
}

func (tr *Trigger) notifyParents(tx *store.Tx, log mlog.Log, t *schema.Type, v any) {
	rv, err := t.Struct(v)
	if err != nil {
		log.Errorx("parents of record", err)
		return
	}
	for _, pl := range t.Parents {
		if !pl.CountAsStorageParent || !pl.Target.Trackable() {
			continue
		}
		ppk := pl.Field.Value(rv)
		if ppk == nil {
			continue
		}
		tr.notifyParent(tx, log, pl, ppk)
	}
}

// notifyPreviousParents saves the storage parents that old was linked to but v
// no longer is.
func (tr *Trigger) notifyPreviousParents(tx *store.Tx, log mlog.Log, t *schema.Type, old, v any) {
	orv, err := t.Struct(old)
	if err != nil {
		log.Errorx("previous parents of record", err)
		return
	}
	rv, err := t.Struct(v)
	if err != nil {
		log.Errorx("parents of record", err)
		return
	}
	for _, pl := range t.Parents {
		if !pl.CountAsStorageParent || !pl.Target.Trackable() {
			continue
		}
		prev := pl.Field.Value(orv)
		if prev == nil || prev == pl.Field.Value(rv) {
			continue
		}
		tr.notifyParent(tx, log, pl, prev)
	}
}

// notifyParent saves the parent with primary key ppk, recomputing its total.
// Panics are recovered so other parents are still notified.
func (tr *Trigger) notifyParent(tx *store.Tx, log mlog.Log, pl schema.ParentLink, ppk any) {
	log = log.With(slog.String("parenttype", pl.Target.Name), slog.Any("parentpk", ppk))

	defer func() {
		x := recover()
		if x != nil {
			log.Error("recomputing storage of parent panic", slog.Any("panic", x))
			debug.PrintStack()
			metrics.PanicInc(metrics.Usage)
			metricErrors.WithLabelValues("panic").Inc()
		}
	}()

	p, err := pl.Target.Get(tx.Tx, ppk)
	if store.IsAbsent(err) {
		log.Debug("storage parent absent, not recomputing")
		return
	} else if err != nil {
		metricErrors.WithLabelValues("getparent").Inc()
		log.Errorx("get storage parent", err)
		return
	}
	if err := tx.Update(p); err != nil {
		metricErrors.WithLabelValues("saveparent").Inc()
		log.Errorx("save storage parent", err)
	}
}
