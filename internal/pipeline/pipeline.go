// Package pipeline drives pictures through the encoder stages that share an
// EncodeContext. Workers inside a stage finish out of order; each stage's
// collector restores picture order through the context's reorder queue
// before handing pictures to the next stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"encode-hub/internal/encctx"
	"encode-hub/internal/platform/logger"

	"golang.org/x/sync/errgroup"
)

// DefaultGOPSize is the number of pictures per rate-control GOP.
const DefaultGOPSize = 16

// ErrInvalidRun reports arguments Run cannot work with.
var ErrInvalidRun = errors.New("pipeline: invalid run")

type options struct {
	gopSize int
	log     *slog.Logger
}

// Option configures Run.
type Option func(*options)

// WithGOPSize sets the rate-control GOP length.
func WithGOPSize(n int) Option {
	return func(o *options) { o.gopSize = n }
}

// WithLogger sets the logger for stage events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Result summarizes a completed run.
type Result struct {
	// Packetized lists picture numbers in the order packetization emitted
	// them.
	Packetized []uint64
	GOPs       int
	TotalBits  int64
}

// Run encodes pictures 0..frames-1 with the given number of workers per
// stage. It returns when packetization has emitted every picture, ctx is
// cancelled, or a stage fails. Picture numbering restarts at zero, so a
// context can serve only one Run; later calls return ErrInvalidRun.
func Run(ctx context.Context, ec *encctx.EncodeContext, frames, workers int, opts ...Option) (Result, error) {
	o := options{gopSize: DefaultGOPSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Discard()
	}
	cfg := ec.Config()
	switch {
	case frames <= 0:
		return Result{}, fmt.Errorf("%w: frames must be positive, got %d", ErrInvalidRun, frames)
	case workers <= 0:
		return Result{}, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidRun, workers)
	case o.gopSize <= 0 || o.gopSize > cfg.CodedFramesStatDepth:
		return Result{}, fmt.Errorf("%w: gop size %d outside [1, %d]", ErrInvalidRun, o.gopSize, cfg.CodedFramesStatDepth)
	case ec.PictureDecisionQueue().Head() != 0 || !ec.ClaimPipeline():
		return Result{}, fmt.Errorf("%w: context already ran a pipeline", ErrInvalidRun)
	}

	r := &run{
		ec:       ec,
		log:      o.log,
		frames:   uint64(frames),
		gopSize:  uint64(o.gopSize),
		statsSem: make(chan struct{}, ec.StatsLog().Capacity()),
		gopSem:   make(chan struct{}, ec.RateControlRing().Depth()),
		miniGOP:  min(ec.PreAssignment().Limit(), ec.StatsLog().Capacity()),
	}

	g, ctx := errgroup.WithContext(ctx)
	pdIn := make(chan uint64)
	ircIn := make(chan uint64)
	pktIn := make(chan uint64)

	g.Go(func() error {
		defer close(pdIn)
		for pn := uint64(0); pn < r.frames; pn++ {
			if err := send(ctx, pdIn, pn); err != nil {
				return err
			}
		}
		return nil
	})

	runStage(ctx, g, "picture_decision", ec.PictureDecisionQueue(), workers, pdIn,
		func(pn uint64) encctx.PictureDecisionEntry {
			return encctx.PictureDecisionEntry{Picture: encctx.Picture{Number: pn}}
		},
		func(pn uint64, e encctx.PictureDecisionEntry) error {
			return r.decide(ctx, e.Picture, ircIn)
		},
		func() { close(ircIn) })

	runStage(ctx, g, "initial_rate_control", ec.InitialRateControlQueue(), workers, ircIn,
		func(pn uint64) encctx.InitialRateControlEntry {
			return encctx.InitialRateControlEntry{Picture: encctx.Picture{Number: pn}}
		},
		func(pn uint64, _ encctx.InitialRateControlEntry) error {
			return r.rateControl(ctx, pn, pktIn)
		},
		func() { close(pktIn) })

	runStage(ctx, g, "packetization", ec.PacketizationQueue(), workers, pktIn,
		r.encode,
		func(pn uint64, e encctx.PacketizationEntry) error {
			return r.packetize(pn, e)
		},
		nil)

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	r.log.Info("pipeline run complete",
		slog.Uint64("frames", r.frames),
		slog.Int("gops", r.gops),
		slog.Int64("total_bits", r.totalBits))
	return Result{Packetized: r.packetized, GOPs: r.gops, TotalBits: r.totalBits}, nil
}

// run holds the per-stage state. Each field is touched only by the
// collector goroutine of the stage named in its comment.
type run struct {
	ec      *encctx.EncodeContext
	log     *slog.Logger
	frames  uint64
	gopSize uint64
	miniGOP int

	statsSem chan struct{}
	gopSem   chan struct{}

	// picture decision
	decodeOrder uint64

	// initial rate control
	gopSlot int

	// packetization
	gops       int
	totalBits  int64
	packetized []uint64
}

func (r *run) gopStart(pn uint64) bool { return pn%r.gopSize == 0 }

func (r *run) gopEnd(pn uint64) bool {
	return (pn+1)%r.gopSize == 0 || pn == r.frames-1
}

// decide runs in picture order. It produces the first-pass statistics for
// the picture, then groups pictures in the pre-assignment buffer and
// releases each group to rate control once it is complete.
func (r *run) decide(ctx context.Context, p encctx.Picture, out chan<- uint64) error {
	ec := r.ec
	if ec.InitialPicture() {
		ec.ClearInitialPicture()
	}
	if p.Number == r.frames-1 {
		ec.RequestTermination(p.Number)
	}
	if r.gopStart(p.Number) && p.Number > 0 {
		ec.PushSceneChange(p.Number)
	}

	if err := send(ctx, r.statsSem, struct{}{}); err != nil {
		return err
	}
	rec := firstPassRecord(p.Number)
	ec.AppendStats(rec)
	ec.StatsLog().Publish()
	if err := ec.WriteStats(rec); err != nil {
		return err
	}

	ec.PreAssignment().Push(p)
	if ec.PreAssignment().Len() < r.miniGOP && !r.gopEnd(p.Number) {
		return nil
	}
	for {
		q, ok := ec.PreAssignment().Pop()
		if !ok {
			return nil
		}
		if err := r.assign(ctx, q, out); err != nil {
			return err
		}
	}
}

// assign picks a reference slot for p, stages it in the input queue and
// forwards it.
func (r *run) assign(ctx context.Context, p encctx.Picture, out chan<- uint64) error {
	dpb := r.ec.PictureDecisionDPB()
	ref := 0
	ft := encctx.InterFrame
	if r.gopStart(p.Number) {
		ft = encctx.KeyFrame
		for _, i := range dpb.Live() {
			for dpb.Entry(i).Valid {
				dpb.Release(i)
			}
		}
	} else if dpb.Len() > 1 {
		ref = 1 + int(p.Number%uint64(dpb.Len()-1))
		dpb.Release(ref)
	}
	dpb.Assign(ref, p.Number, r.decodeOrder, ft)
	r.decodeOrder++

	slot := r.ec.InputQueue().Slot(p.Number)
	slot.Store(p.Number, encctx.InputQueueEntry{Picture: p, ReferenceEntryIndex: ref})
	err := send(ctx, out, p.Number)
	slot.Take()
	return err
}

// rateControl runs in picture order. It folds the picture's statistics
// into the running state and keeps the GOP's parameter slot.
func (r *run) rateControl(ctx context.Context, pn uint64, out chan<- uint64) error {
	ec := r.ec
	ring := ec.RateControlRing()

	if r.gopStart(pn) {
		if err := send(ctx, r.gopSem, struct{}{}); err != nil {
			return err
		}
		if pn > 0 {
			r.gopSlot = ec.AdvanceRateControl()
		}
		size := int64(r.gopSize)
		if rem := r.frames - pn; rem < r.gopSize {
			size = -1
		}
		ring.Begin(r.gopSlot, pn, size)
		ring.Retain(r.gopSlot)
	}

	ec.StatsLog().Accumulate(int64(pn))
	ec.ConsumeStats(1)
	<-r.statsSem

	param := ring.Slot(uint64(r.gopSlot))
	param.ProcessedFrameNumber++
	param.TotalTargetBits += param.RollingTargetBits

	if r.gopEnd(pn) {
		ring.Finalize(r.gopSlot, ec.IsTerminating(pn))
	}
	return send(ctx, out, pn)
}

// encode is the packetization worker. It runs concurrently and touches no
// shared state.
func (r *run) encode(pn uint64) encctx.PacketizationEntry {
	e := encctx.PacketizationEntry{
		Picture:   encctx.Picture{Number: pn},
		FrameType: encctx.InterFrame,
		TotalBits: 1000 + (pn*7919)%500,
		ShowFrame: true,
	}
	if r.gopStart(pn) {
		e.FrameType = encctx.KeyFrame
		e.TotalBits *= 4
	}
	return e
}

// packetize runs in picture order and closes out each GOP.
func (r *run) packetize(pn uint64, e encctx.PacketizationEntry) error {
	ec := r.ec
	ec.RecordCodedFrame(encctx.CodedFramesStatEntry{
		PictureNumber:  pn,
		FrameTotalBits: int64(e.TotalBits),
		EndOfSequence:  ec.IsTerminating(pn),
	})
	if refs := ec.ReferenceList(); refs != nil {
		s := refs.Slot(pn)
		s.Reset()
		s.Store(pn, encctx.ReferenceEntry{Picture: e.Picture, DecodeOrder: pn, ReferenceCount: 1, ReleaseEnable: true, FrameType: e.FrameType})
	}
	ec.AddReconFrames(1)
	ec.SetFrameUpdated(true)
	r.packetized = append(r.packetized, pn)

	if !r.gopEnd(pn) {
		return nil
	}

	first := pn - pn%r.gopSize
	var bits int64
	for f := first; f <= pn; f++ {
		c, ok := ec.CodedFrame(f)
		if !ok {
			return fmt.Errorf("packetize: coded frame %d missing", f)
		}
		bits += c.FrameTotalBits
		ec.ReleaseCodedFrame(f)
	}
	ring := ec.RateControlRing()
	slot := int((pn / r.gopSize) % uint64(ring.Depth()))
	param := ring.Slot(uint64(slot))
	param.TotalActualBits = bits
	param.RollingActualBits = bits / int64(pn-first+1)
	ec.ObserveGOPBits(bits)
	ring.Done(slot)
	<-r.gopSem

	r.gops++
	r.totalBits += bits
	r.log.Debug("gop packetized",
		slog.Uint64("first_picture", first),
		slog.Uint64("last_picture", pn),
		slog.Int64("bits", bits))
	return nil
}

// runStage starts one stage: a dispatcher that bounds in-flight pictures
// to the reorder window, the workers, and the collector that owns q.
func runStage[T any](
	ctx context.Context,
	g *errgroup.Group,
	name string,
	q *encctx.ReorderQueue[T],
	workers int,
	in <-chan uint64,
	work func(pn uint64) T,
	emit func(pn uint64, v T) error,
	done func(),
) {
	type result struct {
		pn uint64
		v  T
	}
	window := make(chan struct{}, q.Pool().Depth())
	jobs := make(chan uint64)
	results := make(chan result)

	g.Go(func() error {
		defer close(jobs)
		for pn := range in {
			if err := send(ctx, window, struct{}{}); err != nil {
				return err
			}
			if err := send(ctx, jobs, pn); err != nil {
				return err
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for pn := range jobs {
				if err := send(ctx, results, result{pn, work(pn)}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		wg.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		if done != nil {
			defer done()
		}
		for res := range results {
			q.Put(res.pn, res.v)
			var err error
			q.Drain(func(pn uint64, v T) {
				<-window
				if err == nil {
					err = emit(pn, v)
				}
			})
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	})
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// firstPassRecord synthesizes integer-valued statistics for picture pn.
func firstPassRecord(pn uint64) encctx.StatisticsRecord {
	f := float64(pn)
	return encctx.StatisticsRecord{
		Frame:      f,
		Weight:     1,
		IntraError: 2000 + float64(pn%97),
		CodedError: 1200 + float64(pn%53),
		PcntInter:  1,
		Count:      1,
		Duration:   1,
	}
}
