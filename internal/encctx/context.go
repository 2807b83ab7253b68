package encctx

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"encode-hub/internal/platform/logger"
	"encode-hub/internal/platform/metrics"
)

// TerminatingNone is the terminating picture number while no end of
// sequence has been requested.
const TerminatingNone = ^uint64(0)

// MinBitActualPerGOPInit seeds the smallest-GOP bit tracker.
const MinBitActualPerGOPInit = 0xfffffffffffff

// Callback is the application's callback handle. The context only checks
// that one was supplied.
type Callback any

type options struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	guard   ResourceGuard
	sink    StatSink
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics enables Prometheus instrumentation. Nil disables it.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithResourceGuard replaces the default BudgetGuard.
func WithResourceGuard(g ResourceGuard) Option {
	return func(o *options) { o.guard = g }
}

// WithStatSink sets where WriteStats persists records.
func WithStatSink(s StatSink) Option {
	return func(o *options) { o.sink = s }
}

// EncodeContext owns every piece of state shared between encoder stages.
// Each independently contended field group has its own lock; reorder slots
// are single-writer by construction and carry no lock.
type EncodeContext struct {
	cfg      Config
	callback Callback
	log      *slog.Logger
	metrics  *metrics.Metrics
	guard    ResourceGuard

	initialPicture     atomic.Bool
	terminatingPicture atomic.Uint64
	pipelineClaimed    atomic.Bool
	speedControlMode   int
	recodeTolerance    int
	minCR              int

	reconMu     sync.Mutex
	reconFrames uint64

	frameUpdatedMu sync.Mutex
	frameUpdated   bool

	scBufferMu sync.Mutex
	scBuffer   *sceneChangeBuffer

	statFileMu sync.Mutex
	statSink   StatSink

	pictureDecision    *ReorderQueue[PictureDecisionEntry]
	preAssignment      *PreAssignment
	inputQueue         *SlotPool[InputQueueEntry]
	pdDPB              *DPB
	initialRateControl *ReorderQueue[InitialRateControlEntry]
	packetization      *ReorderQueue[PacketizationEntry]
	referenceList      *SlotPool[ReferenceEntry]
	statsLog           *StatsLog

	rcMu               sync.Mutex
	codedFramesStat    *SlotPool[CodedFramesStatEntry]
	minBitActualPerGOP int64

	rcRing *RateControlRing

	teardownMu sync.Mutex
	releasers  []releaser
	failedStep string
	live       bool
}

type releaser struct {
	step string
	fn   func()
}

// buildStep is one allocation made by New. Steps run in order; each
// successful step registers its release, and teardown runs releases in
// reverse.
type buildStep struct {
	name    string
	bytes   func(c Config) int64
	build   func(ec *EncodeContext, o *options)
	release func(ec *EncodeContext)
}

var constructSteps = []buildStep{
	{
		name:    "recon_frame_counter",
		bytes:   func(Config) int64 { return arrayBytes[sync.Mutex](1) + arrayBytes[uint64](1) },
		build:   func(ec *EncodeContext, _ *options) { ec.reconFrames = 0 },
		release: func(ec *EncodeContext) { ec.reconFrames = 0 },
	},
	{
		name:    "frame_updated_flag",
		bytes:   func(Config) int64 { return arrayBytes[sync.Mutex](1) + arrayBytes[bool](1) },
		build:   func(ec *EncodeContext, _ *options) { ec.frameUpdated = false },
		release: func(ec *EncodeContext) { ec.frameUpdated = false },
	},
	{
		name:  "picture_decision_queue",
		bytes: func(c Config) int64 { return arrayBytes[Slot[PictureDecisionEntry]](c.PictureDecisionDepth) },
		build: func(ec *EncodeContext, _ *options) {
			ec.pictureDecision = NewReorderQueue(ec.cfg.PictureDecisionDepth, newPictureDecisionEntry)
		},
		release: func(ec *EncodeContext) { ec.pictureDecision = nil },
	},
	{
		name:    "pre_assignment_buffer",
		bytes:   func(c Config) int64 { return arrayBytes[Picture](c.PreAssignmentDepth) },
		build:   func(ec *EncodeContext, _ *options) { ec.preAssignment = NewPreAssignment(ec.cfg.PreAssignmentDepth) },
		release: func(ec *EncodeContext) { ec.preAssignment = nil },
	},
	{
		name:  "input_queue",
		bytes: func(c Config) int64 { return arrayBytes[Slot[InputQueueEntry]](c.InputQueueDepth) },
		build: func(ec *EncodeContext, _ *options) {
			ec.inputQueue = NewSlotPool(ec.cfg.InputQueueDepth, newInputQueueEntry)
		},
		release: func(ec *EncodeContext) { ec.inputQueue = nil },
	},
	{
		name:    "pd_dpb",
		bytes:   func(c Config) int64 { return arrayBytes[DPBEntry](c.RefFrames) },
		build:   func(ec *EncodeContext, _ *options) { ec.pdDPB = NewDPB(ec.cfg.RefFrames) },
		release: func(ec *EncodeContext) { ec.pdDPB = nil },
	},
	{
		name:  "initial_rate_control_queue",
		bytes: func(c Config) int64 { return arrayBytes[Slot[InitialRateControlEntry]](c.InitialRateControlDepth) },
		build: func(ec *EncodeContext, _ *options) {
			ec.initialRateControl = NewReorderQueue(ec.cfg.InitialRateControlDepth, newInitialRateControlEntry)
		},
		release: func(ec *EncodeContext) { ec.initialRateControl = nil },
	},
	{
		name:  "packetization_queue",
		bytes: func(c Config) int64 { return arrayBytes[Slot[PacketizationEntry]](c.PacketizationDepth) },
		build: func(ec *EncodeContext, _ *options) {
			ec.packetization = NewReorderQueue(ec.cfg.PacketizationDepth, newPacketizationEntry)
		},
		release: func(ec *EncodeContext) { ec.packetization = nil },
	},
	{
		name:  "reference_picture_list",
		bytes: func(c Config) int64 { return arrayBytes[Slot[ReferenceEntry]](c.ReferenceListLength) },
		build: func(ec *EncodeContext, _ *options) {
			if ec.cfg.ReferenceListLength > 0 {
				ec.referenceList = NewSlotPool(ec.cfg.ReferenceListLength, newReferenceEntry)
			}
		},
		release: func(ec *EncodeContext) { ec.referenceList = nil },
	},
	{
		name:  "scene_change_buffer",
		bytes: func(c Config) int64 { return addBytes(arrayBytes[sync.Mutex](1), arrayBytes[uint64](c.SceneChangeDepth)) },
		build: func(ec *EncodeContext, _ *options) {
			ec.scBuffer = &sceneChangeBuffer{limit: ec.cfg.SceneChangeDepth}
		},
		release: func(ec *EncodeContext) { ec.scBuffer = nil },
	},
	{
		name:    "stat_file",
		bytes:   func(Config) int64 { return arrayBytes[sync.Mutex](1) },
		build:   func(ec *EncodeContext, o *options) { ec.statSink = o.sink },
		release: func(ec *EncodeContext) { ec.statSink = nil },
	},
	{
		name: "stats_log",
		bytes: func(c Config) int64 {
			// backing array plus the two running totals
			return arrayBytes[StatisticsRecord](StatsBufferSize(c.LookAheadBuffers, MaxLagBuffers) + 2)
		},
		build: func(ec *EncodeContext, _ *options) {
			ec.statsLog = NewStatsLog(StatsBufferSize(ec.cfg.LookAheadBuffers, MaxLagBuffers))
		},
		release: func(ec *EncodeContext) { ec.statsLog = nil },
	},
	{
		name:  "coded_frames_stat_queue",
		bytes: func(c Config) int64 { return arrayBytes[Slot[CodedFramesStatEntry]](c.CodedFramesStatDepth) },
		build: func(ec *EncodeContext, _ *options) {
			ec.codedFramesStat = NewSlotPool(ec.cfg.CodedFramesStatDepth, newCodedFramesStatEntry)
			ec.minBitActualPerGOP = MinBitActualPerGOPInit
		},
		release: func(ec *EncodeContext) { ec.codedFramesStat = nil },
	},
	{
		name:  "rc_param_ring",
		bytes: func(c Config) int64 { return arrayBytes[RateControlParam](c.ParallelGOPs) },
		build: func(ec *EncodeContext, _ *options) {
			ec.rcRing = NewRateControlRing(ec.cfg.ParallelGOPs, ec.cfg.AvgFrameBandwidth)
		},
		release: func(ec *EncodeContext) { ec.rcRing = nil },
	},
}

// New builds the encode context for one session. It fails with
// ErrConfiguration when cb is nil or cfg is invalid, and with
// ErrInsufficientResources when an allocation step is refused. On failure
// everything already allocated is released before New returns.
func New(cfg Config, cb Callback, opts ...Option) (*EncodeContext, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Discard()
	}
	if o.guard == nil {
		o.guard = NewBudgetGuard(cfg.MemoryBudget)
	}

	ec, err := construct(cfg, cb, o)
	if err != nil {
		ec.Destroy()
		step := ec.failedStep
		if step == "" {
			step = "config"
		}
		if o.metrics != nil {
			o.metrics.IncConstructFailures(step)
		}
		o.log.Error("encode context construction failed",
			slog.String("step", step),
			slog.String("error", err.Error()))
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.ContextBuilt()
	}
	o.log.Info("encode context constructed",
		slog.Int("lookahead_buffers", cfg.LookAheadBuffers),
		slog.Int("stats_capacity", ec.statsLog.Capacity()),
		slog.Int("parallel_gops", cfg.ParallelGOPs),
		slog.Int64("avg_frame_bandwidth", cfg.AvgFrameBandwidth),
		slog.Int("steps", len(ec.releasers)))
	return ec, nil
}

// construct runs the build steps. On error it returns the partially built
// context, which is always safe to Destroy.
func construct(cfg Config, cb Callback, o options) (*EncodeContext, error) {
	ec := &EncodeContext{cfg: cfg, log: o.log, metrics: o.metrics, guard: o.guard}
	if ec.log == nil {
		ec.log = logger.Discard()
	}
	if ec.guard == nil {
		ec.guard = NewBudgetGuard(cfg.MemoryBudget)
	}

	if cb == nil {
		return ec, fmt.Errorf("%w: application callback is required", ErrConfiguration)
	}
	ec.callback = cb
	if err := cfg.Validate(); err != nil {
		return ec, err
	}

	for _, st := range constructSteps {
		n := st.bytes(cfg)
		if n == unallocatable {
			ec.failedStep = st.name
			return ec, fmt.Errorf("%w: %s: size out of range", ErrInsufficientResources, st.name)
		}
		if err := ec.guard.Reserve(st.name, n); err != nil {
			ec.failedStep = st.name
			return ec, fmt.Errorf("%w: %s: %w", ErrInsufficientResources, st.name, err)
		}
		st.build(ec, &o)
		ec.releasers = append(ec.releasers, releaser{
			step: st.name,
			fn: func() {
				st.release(ec)
				ec.guard.Release(st.name, n)
			},
		})
	}

	ec.initialPicture.Store(true)
	ec.terminatingPicture.Store(TerminatingNone)
	ec.speedControlMode = SpeedControlInitMode
	ec.recodeTolerance = DefaultRecodeTolerance
	ec.minCR = 0
	ec.live = true
	return ec, nil
}

// Destroy releases everything the context still holds, newest first. It is
// safe on a nil or partially built context and a second call does nothing.
// All stage goroutines must have stopped before Destroy is called.
func (ec *EncodeContext) Destroy() {
	if ec == nil {
		return
	}
	ec.teardownMu.Lock()
	defer ec.teardownMu.Unlock()

	released := len(ec.releasers)
	for i := len(ec.releasers) - 1; i >= 0; i-- {
		ec.releasers[i].fn()
	}
	ec.releasers = nil

	if !ec.live {
		return
	}
	ec.live = false
	if ec.metrics != nil {
		ec.metrics.ContextDestroyed()
	}
	ec.log.Info("encode context destroyed", slog.Int("released_steps", released))
}

// Config returns the configuration the context was built with.
func (ec *EncodeContext) Config() Config { return ec.cfg }

// PictureDecisionQueue is owned by the picture decision stage.
func (ec *EncodeContext) PictureDecisionQueue() *ReorderQueue[PictureDecisionEntry] {
	return ec.pictureDecision
}

// PreAssignment is owned by the picture decision stage.
func (ec *EncodeContext) PreAssignment() *PreAssignment { return ec.preAssignment }

// InputQueue is owned by the picture decision stage.
func (ec *EncodeContext) InputQueue() *SlotPool[InputQueueEntry] { return ec.inputQueue }

// PictureDecisionDPB is picture decision's reference tracking table.
func (ec *EncodeContext) PictureDecisionDPB() *DPB { return ec.pdDPB }

// InitialRateControlQueue is owned by the initial rate control stage.
func (ec *EncodeContext) InitialRateControlQueue() *ReorderQueue[InitialRateControlEntry] {
	return ec.initialRateControl
}

// PacketizationQueue is owned by the packetization stage.
func (ec *EncodeContext) PacketizationQueue() *ReorderQueue[PacketizationEntry] {
	return ec.packetization
}

// ReferenceList is the reconstruction reference list, or nil when
// Config.ReferenceListLength is zero.
func (ec *EncodeContext) ReferenceList() *SlotPool[ReferenceEntry] { return ec.referenceList }

// StatsLog is the first-pass statistics log.
func (ec *EncodeContext) StatsLog() *StatsLog { return ec.statsLog }

// RateControlRing is the parallel-GOP rate-control parameter ring.
func (ec *EncodeContext) RateControlRing() *RateControlRing { return ec.rcRing }

// SpeedControlMode returns the initial speed-control encoder mode.
func (ec *EncodeContext) SpeedControlMode() int { return ec.speedControlMode }

// RecodeTolerance returns the recode tolerance in percent.
func (ec *EncodeContext) RecodeTolerance() int { return ec.recodeTolerance }

// MinCompressionRatio returns the minimum compression ratio constraint.
func (ec *EncodeContext) MinCompressionRatio() int { return ec.minCR }

// InitialPicture reports whether no picture has been processed yet.
func (ec *EncodeContext) InitialPicture() bool { return ec.initialPicture.Load() }

// ClearInitialPicture marks the first picture as seen.
func (ec *EncodeContext) ClearInitialPicture() { ec.initialPicture.Store(false) }

// RequestTermination records pn as the last picture of the sequence.
func (ec *EncodeContext) RequestTermination(pn uint64) {
	ec.terminatingPicture.Store(pn)
	ec.log.Info("end of sequence requested", slog.Uint64("picture_number", pn))
}

// TerminatingPicture returns the last picture number, or TerminatingNone.
func (ec *EncodeContext) TerminatingPicture() uint64 { return ec.terminatingPicture.Load() }

// IsTerminating reports whether pn is the last picture of the sequence.
func (ec *EncodeContext) IsTerminating(pn uint64) bool {
	t := ec.terminatingPicture.Load()
	return t != TerminatingNone && pn == t
}

// AddReconFrames adds n reconstructed frames and returns the new total.
func (ec *EncodeContext) AddReconFrames(n uint64) uint64 {
	ec.reconMu.Lock()
	defer ec.reconMu.Unlock()
	ec.reconFrames += n
	return ec.reconFrames
}

// ClaimPipeline reports whether the caller is the first to drive pictures
// through this context. Later calls return false.
func (ec *EncodeContext) ClaimPipeline() bool {
	return ec.pipelineClaimed.CompareAndSwap(false, true)
}

// ReconFrames returns the reconstructed frame count.
func (ec *EncodeContext) ReconFrames() uint64 {
	ec.reconMu.Lock()
	defer ec.reconMu.Unlock()
	return ec.reconFrames
}

// SetFrameUpdated sets the frame-updated flag.
func (ec *EncodeContext) SetFrameUpdated(v bool) {
	ec.frameUpdatedMu.Lock()
	defer ec.frameUpdatedMu.Unlock()
	ec.frameUpdated = v
}

// FrameUpdated returns the frame-updated flag.
func (ec *EncodeContext) FrameUpdated() bool {
	ec.frameUpdatedMu.Lock()
	defer ec.frameUpdatedMu.Unlock()
	return ec.frameUpdated
}

// PushSceneChange records pn as a scene change, dropping the oldest entry
// once the buffer is full.
func (ec *EncodeContext) PushSceneChange(pn uint64) {
	ec.scBufferMu.Lock()
	defer ec.scBufferMu.Unlock()
	ec.scBuffer.push(pn)
}

// SceneChanges returns the buffered scene-change picture numbers, oldest
// first.
func (ec *EncodeContext) SceneChanges() []uint64 {
	ec.scBufferMu.Lock()
	defer ec.scBufferMu.Unlock()
	return ec.scBuffer.list()
}

// SetStatSink replaces the stats output. Nil disables persistence.
func (ec *EncodeContext) SetStatSink(s StatSink) {
	ec.statFileMu.Lock()
	defer ec.statFileMu.Unlock()
	ec.statSink = s
}

// WriteStats persists rec through the stat sink, if one is set.
func (ec *EncodeContext) WriteStats(rec StatisticsRecord) error {
	ec.statFileMu.Lock()
	defer ec.statFileMu.Unlock()
	if ec.statSink == nil {
		return nil
	}
	if err := ec.statSink.WriteStats(rec); err != nil {
		return fmt.Errorf("write stats for frame %.0f: %w", rec.Frame, err)
	}
	return nil
}

// AppendStats appends rec to the statistics log.
func (ec *EncodeContext) AppendStats(rec StatisticsRecord) {
	ec.statsLog.Append(rec)
	if ec.metrics != nil {
		ec.metrics.IncStatsAppended()
	}
}

// ConsumeStats retires n published records from the statistics log.
func (ec *EncodeContext) ConsumeStats(n int) {
	ec.statsLog.Consume(n)
	if ec.metrics != nil {
		ec.metrics.AddStatsConsumed(n)
	}
}

// AdvanceRateControl moves the rate-control ring to the next GOP.
func (ec *EncodeContext) AdvanceRateControl() int {
	head := ec.rcRing.Advance()
	if ec.metrics != nil {
		ec.metrics.IncRCAdvances()
	}
	ec.log.Debug("rate control ring advanced", slog.Int("head", head))
	return head
}

// RecordCodedFrame stores the bit count of a coded frame.
func (ec *EncodeContext) RecordCodedFrame(e CodedFramesStatEntry) {
	ec.rcMu.Lock()
	defer ec.rcMu.Unlock()
	ec.codedFramesStat.Slot(e.PictureNumber).Store(e.PictureNumber, e)
}

// CodedFrame returns the stored entry for pn, if present.
func (ec *EncodeContext) CodedFrame(pn uint64) (CodedFramesStatEntry, bool) {
	ec.rcMu.Lock()
	defer ec.rcMu.Unlock()
	s := ec.codedFramesStat.Slot(pn)
	if !s.Occupied() || s.PictureNumber() != pn {
		return CodedFramesStatEntry{}, false
	}
	return s.Value, true
}

// ReleaseCodedFrame frees pn's slot once rate control no longer needs it.
func (ec *EncodeContext) ReleaseCodedFrame(pn uint64) {
	ec.rcMu.Lock()
	defer ec.rcMu.Unlock()
	s := ec.codedFramesStat.Slot(pn)
	if s.Occupied() && s.PictureNumber() == pn {
		s.Reset()
	}
}

// ObserveGOPBits folds the actual bits of a finished GOP into the minimum.
func (ec *EncodeContext) ObserveGOPBits(bits int64) {
	ec.rcMu.Lock()
	defer ec.rcMu.Unlock()
	if bits < ec.minBitActualPerGOP {
		ec.minBitActualPerGOP = bits
	}
}

// MinBitActualPerGOP returns the smallest GOP seen so far.
func (ec *EncodeContext) MinBitActualPerGOP() int64 {
	ec.rcMu.Lock()
	defer ec.rcMu.Unlock()
	return ec.minBitActualPerGOP
}

// QueueStatus describes one fixed-depth structure.
type QueueStatus struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
}

// Snapshot is a race-free summary of the context for introspection. Slot
// contents are stage-owned and deliberately left out.
type Snapshot struct {
	InitialPicture     bool          `json:"initial_picture"`
	TerminatingPicture uint64        `json:"terminating_picture"`
	SpeedControlMode   int           `json:"speed_control_mode"`
	RecodeTolerance    int           `json:"recode_tolerance"`
	ReconFrames        uint64        `json:"recon_frames"`
	FrameUpdated       bool          `json:"frame_updated"`
	SceneChanges       []uint64      `json:"scene_changes"`
	MinBitActualPerGOP int64         `json:"min_bit_actual_per_gop"`
	Queues             []QueueStatus `json:"queues"`
	Stats              Cursors       `json:"stats"`
	RateControlHead    int           `json:"rate_control_head"`
	RateControlDepth   int           `json:"rate_control_depth"`
}

// Snapshot captures the lock-protected state of the context.
func (ec *EncodeContext) Snapshot() Snapshot {
	s := Snapshot{
		InitialPicture:     ec.InitialPicture(),
		TerminatingPicture: ec.TerminatingPicture(),
		SpeedControlMode:   ec.speedControlMode,
		RecodeTolerance:    ec.recodeTolerance,
		ReconFrames:        ec.ReconFrames(),
		FrameUpdated:       ec.FrameUpdated(),
		SceneChanges:       ec.SceneChanges(),
		MinBitActualPerGOP: ec.MinBitActualPerGOP(),
		Stats:              ec.statsLog.Cursors(),
		RateControlHead:    ec.rcRing.Head(),
		RateControlDepth:   ec.rcRing.Depth(),
		Queues: []QueueStatus{
			{"picture_decision", ec.pictureDecision.Pool().Depth()},
			{"pre_assignment", ec.preAssignment.Limit()},
			{"input", ec.inputQueue.Depth()},
			{"pd_dpb", ec.pdDPB.Len()},
			{"initial_rate_control", ec.initialRateControl.Pool().Depth()},
			{"packetization", ec.packetization.Pool().Depth()},
			{"coded_frames_stat", ec.codedFramesStat.Depth()},
		},
	}
	if ec.referenceList != nil {
		s.Queues = append(s.Queues, QueueStatus{"reference_list", ec.referenceList.Depth()})
	}
	return s
}
