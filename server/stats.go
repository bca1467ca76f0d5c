package server

import (
	"expvar"
	"time"

	"github.com/facebookgo/stats"
)

// ExpvarStats publishes counters under the "pcm" expvar, so they show up
// at /debug/vars.
var ExpvarStats = NewExpvarStats(expvar.NewMap("pcm"))

// expvarStats is a stats.Client keeping sums, and counts with totals for
// averages and timings.
type expvarStats struct {
	m *expvar.Map
}

var _ stats.Client = expvarStats{}

// NewExpvarStats returns a stats.Client which records into m.
func NewExpvarStats(m *expvar.Map) stats.Client {
	return expvarStats{m: m}
}

func (e expvarStats) BumpAvg(key string, val float64) {
	e.m.Add(key+".count", 1)
	e.m.AddFloat(key+".total", val)
}

func (e expvarStats) BumpSum(key string, val float64) {
	e.m.AddFloat(key, val)
}

func (e expvarStats) BumpHistogram(key string, val float64) {
	e.BumpAvg(key, val)
}

func (e expvarStats) BumpTime(key string) interface {
	End()
} {
	return timer{e: e, key: key, start: time.Now()}
}

type timer struct {
	e     expvarStats
	key   string
	start time.Time
}

// End records the time since the timer started, in milliseconds.
func (t timer) End() {
	t.e.BumpHistogram(t.key, float64(time.Since(t.start).Microseconds())/1000)
}
