package fastcollection

import (
	"fmt"
	"math"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Stats is a snapshot of a collection's header and of the handle's
// operation counters.
//
// Header values are shared by every handle and process using the file.
// Counters count calls made through this handle only.
type Stats struct {
	Kind        Kind
	Len         int
	BucketCount int

	TotalSize uint64 // file bytes currently addressable
	MaxSize   uint64
	Highwater uint64 // end of the last allocated block
	UsedBytes uint64 // bytes in allocated blocks
	FreeBytes uint64 // bytes in free-list blocks

	CreatedAt  time.Time
	ModifiedAt time.Time

	Reads     uint64
	Writes    uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns a snapshot of the collection.
func (c *collection) Stats() (Stats, error) {
	var st Stats

	err := c.run(func(o *op) error {
		d := o.d

		st = Stats{
			Kind:        c.kind,
			Len:         o.count(),
			BucketCount: int(c.buckets),
			TotalSize:   loadU64(d, offTotalSize),
			MaxSize:     loadU64(d, offMaxSize),
			Highwater:   loadU64(d, offHighwater),
			UsedBytes:   loadU64(d, offUsedBytes),
			FreeBytes:   loadU64(d, offFreeBytes),
			CreatedAt:   time.Unix(0, loadI64(d, offCreatedAt)),
			ModifiedAt:  time.Unix(0, loadI64(d, offModifiedAt)),
		}

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	st.Reads = c.stats.reads.Load()
	st.Writes = c.stats.writes.Load()
	st.Hits = c.stats.hits.Load()
	st.Misses = c.stats.misses.Load()
	st.Evictions = c.stats.evictions.Load()

	return st, nil
}

// StatsSource is implemented by every collection kind.
type StatsSource interface {
	Stats() (Stats, error)
}

// RegisterMetrics publishes src's Stats as gauges in set, labelled with
// collection=name. Gauges read NaN once src is closed.
//
// Registering the same name twice in one set panics, as set.NewGauge does.
func RegisterMetrics(set *metrics.Set, name string, src StatsSource) {
	gauge := func(metric string, pick func(Stats) uint64) {
		set.NewGauge(fmt.Sprintf("fastcollection_%s{collection=%q}", metric, name), func() float64 {
			st, err := src.Stats()
			if err != nil {
				return math.NaN()
			}

			return float64(pick(st))
		})
	}

	gauge("len", func(s Stats) uint64 { return uint64(s.Len) })
	gauge("total_size_bytes", func(s Stats) uint64 { return s.TotalSize })
	gauge("max_size_bytes", func(s Stats) uint64 { return s.MaxSize })
	gauge("highwater_bytes", func(s Stats) uint64 { return s.Highwater })
	gauge("used_bytes", func(s Stats) uint64 { return s.UsedBytes })
	gauge("free_bytes", func(s Stats) uint64 { return s.FreeBytes })
	gauge("reads_total", func(s Stats) uint64 { return s.Reads })
	gauge("writes_total", func(s Stats) uint64 { return s.Writes })
	gauge("hits_total", func(s Stats) uint64 { return s.Hits })
	gauge("misses_total", func(s Stats) uint64 { return s.Misses })
	gauge("evictions_total", func(s Stats) uint64 { return s.Evictions })
}
