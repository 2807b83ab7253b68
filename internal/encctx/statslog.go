package encctx

import (
	"fmt"
	"sync"
)

// StatisticsRecord is the first-pass summary of one source frame.
type StatisticsRecord struct {
	Frame            float64 `json:"frame"`
	Weight           float64 `json:"weight"`
	IntraError       float64 `json:"intra_error"`
	CodedError       float64 `json:"coded_error"`
	SRCodedError     float64 `json:"sr_coded_error"`
	PcntInter        float64 `json:"pcnt_inter"`
	PcntMotion       float64 `json:"pcnt_motion"`
	PcntSecondRef    float64 `json:"pcnt_second_ref"`
	PcntNeutral      float64 `json:"pcnt_neutral"`
	IntraSkipPct     float64 `json:"intra_skip_pct"`
	InactiveZoneRows float64 `json:"inactive_zone_rows"`
	InactiveZoneCols float64 `json:"inactive_zone_cols"`
	MVr              float64 `json:"mvr"`
	MVrAbs           float64 `json:"mvr_abs"`
	MVc              float64 `json:"mvc"`
	MVcAbs           float64 `json:"mvc_abs"`
	MVrv             float64 `json:"mvrv"`
	MVcv             float64 `json:"mvcv"`
	MVInOutCount     float64 `json:"mv_in_out_count"`
	NewMVCount       float64 `json:"new_mv_count"`
	Duration         float64 `json:"duration"`
	Count            float64 `json:"count"`
	RawErrorStdev    float64 `json:"raw_error_stdev"`
}

// StatsFieldCount is the number of numeric fields in a StatisticsRecord.
const StatsFieldCount = 23

// Fields returns pointers to every numeric field in a fixed order. Add,
// Sub and the stats file codec walk this list.
func (r *StatisticsRecord) Fields() [StatsFieldCount]*float64 {
	return [StatsFieldCount]*float64{
		&r.Frame, &r.Weight, &r.IntraError, &r.CodedError, &r.SRCodedError,
		&r.PcntInter, &r.PcntMotion, &r.PcntSecondRef, &r.PcntNeutral,
		&r.IntraSkipPct, &r.InactiveZoneRows, &r.InactiveZoneCols,
		&r.MVr, &r.MVrAbs, &r.MVc, &r.MVcAbs, &r.MVrv, &r.MVcv,
		&r.MVInOutCount, &r.NewMVCount, &r.Duration, &r.Count, &r.RawErrorStdev,
	}
}

// Zero resets every field to the additive identity.
func (r *StatisticsRecord) Zero() {
	*r = StatisticsRecord{}
}

// Add accumulates o into r field by field.
func (r *StatisticsRecord) Add(o *StatisticsRecord) {
	dst, src := r.Fields(), o.Fields()
	for i := range dst {
		*dst[i] += *src[i]
	}
}

// Sub removes o from r field by field.
func (r *StatisticsRecord) Sub(o *StatisticsRecord) {
	dst, src := r.Fields(), o.Fields()
	for i := range dst {
		*dst[i] -= *src[i]
	}
}

// StatsBufferSize is the statistics log capacity for a look-ahead depth:
// one more than the look-ahead when it is enabled, maxLag otherwise.
func StatsBufferSize(lookAhead, maxLag int) int {
	if lookAhead > 0 {
		return lookAhead + 1
	}
	return maxLag
}

// Cursors is a consistent view of the log boundaries. Positions are
// logical record numbers; the backing array is addressed modulo capacity.
type Cursors struct {
	Start       int64 `json:"start"`
	ReadEnd     int64 `json:"read_end"`
	WriteEnd    int64 `json:"write_end"`
	CapacityEnd int64 `json:"capacity_end"`
}

// StatsLog is the fixed-capacity first-pass statistics log. A single
// producer appends; rate control reads the published range and consumes
// from the front. Both running totals are maintained incrementally.
type StatsLog struct {
	mu       sync.Mutex
	buf      []StatisticsRecord
	start    int64
	readEnd  int64
	writeEnd int64

	totalStats     StatisticsRecord
	totalLeftStats StatisticsRecord

	lastFrameAccumulated int64
}

// NewStatsLog allocates a log holding capacity records.
func NewStatsLog(capacity int) *StatsLog {
	if capacity <= 0 {
		panic(fmt.Sprintf("encctx: stats log capacity must be positive, got %d", capacity))
	}
	l := &StatsLog{
		buf:                  make([]StatisticsRecord, capacity),
		lastFrameAccumulated: -1,
	}
	l.totalStats.Zero()
	l.totalLeftStats.Zero()
	return l
}

// Capacity returns the fixed number of records the log can hold.
func (l *StatsLog) Capacity() int { return len(l.buf) }

// Append writes rec at the write cursor. Appending into a full log is a
// producer bug and panics.
func (l *StatsLog) Append(rec StatisticsRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writeEnd == l.capacityEndLocked() {
		panic(fmt.Sprintf("encctx: stats log full (capacity %d, start %d)", len(l.buf), l.start))
	}
	l.buf[l.writeEnd%int64(len(l.buf))] = rec
	l.writeEnd++
	l.totalStats.Add(&rec)
	l.totalLeftStats.Add(&rec)
	l.checkLocked()
}

// Publish makes every appended record visible to readers and returns the
// new read boundary.
func (l *StatsLog) Publish() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.readEnd = l.writeEnd
	l.checkLocked()
	return l.readEnd
}

// Consume retires the n oldest published records and removes them from the
// remaining-statistics total. Consuming past the read boundary panics.
func (l *StatsLog) Consume(n int) {
	if n < 0 {
		panic(fmt.Sprintf("encctx: negative consume count %d", n))
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.start+int64(n) > l.readEnd {
		panic(fmt.Sprintf("encctx: consume %d records past read end (start %d, read end %d)", n, l.start, l.readEnd))
	}
	for i := 0; i < n; i++ {
		rec := &l.buf[l.start%int64(len(l.buf))]
		l.totalLeftStats.Sub(rec)
		rec.Zero()
		l.start++
	}
	l.checkLocked()
}

// Visible copies the published, unconsumed records, oldest first.
func (l *StatsLog) Visible() []StatisticsRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]StatisticsRecord, 0, l.readEnd-l.start)
	for i := l.start; i < l.readEnd; i++ {
		out = append(out, l.buf[i%int64(len(l.buf))])
	}
	return out
}

// Cursors returns the current boundaries.
func (l *StatsLog) Cursors() Cursors {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursorsLocked()
}

// TotalStats returns the sum of every record ever appended.
func (l *StatsLog) TotalStats() StatisticsRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalStats
}

// TotalLeftStats returns the sum of appended records not yet consumed.
func (l *StatsLog) TotalLeftStats() StatisticsRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLeftStats
}

// Pending returns how many records have been appended but not consumed.
func (l *StatsLog) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.writeEnd - l.start)
}

// Accumulate records that rate control has folded frame into its running
// state. Frames must be accumulated in increasing order.
func (l *StatsLog) Accumulate(frame int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if frame <= l.lastFrameAccumulated {
		panic(fmt.Sprintf("encctx: frame %d accumulated after frame %d", frame, l.lastFrameAccumulated))
	}
	l.lastFrameAccumulated = frame
}

// LastFrameAccumulated returns the last frame passed to Accumulate, or -1.
func (l *StatsLog) LastFrameAccumulated() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFrameAccumulated
}

func (l *StatsLog) capacityEndLocked() int64 {
	return l.start + int64(len(l.buf))
}

func (l *StatsLog) cursorsLocked() Cursors {
	return Cursors{
		Start:       l.start,
		ReadEnd:     l.readEnd,
		WriteEnd:    l.writeEnd,
		CapacityEnd: l.capacityEndLocked(),
	}
}

// checkLocked enforces start <= readEnd <= writeEnd <= capacityEnd.
func (l *StatsLog) checkLocked() {
	c := l.cursorsLocked()
	if c.Start > c.ReadEnd || c.ReadEnd > c.WriteEnd || c.WriteEnd > c.CapacityEnd {
		panic(fmt.Sprintf("encctx: stats log cursors out of order: %+v", c))
	}
}

// StatsSummary is a consistent view of the log taken under one lock.
type StatsSummary struct {
	Capacity             int              `json:"capacity"`
	Cursors              Cursors          `json:"cursors"`
	Pending              int              `json:"pending"`
	LastFrameAccumulated int64            `json:"last_frame_accumulated"`
	TotalStats           StatisticsRecord `json:"total_stats"`
	TotalLeftStats       StatisticsRecord `json:"total_left_stats"`
}

// Summary returns the cursors and both totals atomically.
func (l *StatsLog) Summary() StatsSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return StatsSummary{
		Capacity:             len(l.buf),
		Cursors:              l.cursorsLocked(),
		Pending:              int(l.writeEnd - l.start),
		LastFrameAccumulated: l.lastFrameAccumulated,
		TotalStats:           l.totalStats,
		TotalLeftStats:       l.totalLeftStats,
	}
}
