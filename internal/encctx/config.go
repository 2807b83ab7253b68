package encctx

import (
	"fmt"

	"encode-hub/internal/platform/config"
)

// Fixed maximum depths of the session structures.
const (
	PictureDecisionReorderQueueMaxDepth    = 2048
	InputQueueMaxDepth                     = 5000
	InitialRateControlReorderQueueMaxDepth = 2048
	PacketizationReorderQueueMaxDepth      = 2048
	PreAssignmentMaxDepth                  = 128
	CodedFramesStatQueueMaxDepth           = 2000
	SceneChangeBufferMaxDepth              = 64

	// RefFrames is the number of reference frame slots tracked ahead of
	// reconstruction.
	RefFrames = 8

	// ParallelGOPMaxNumber bounds how many GOPs can be in rate control at once.
	ParallelGOPMaxNumber = 256

	// MaxLagBuffers sizes the statistics log when look-ahead is disabled.
	MaxLagBuffers = 35

	// MaxLookAheadBuffers bounds look-ahead by the pictures the input
	// queue can hold.
	MaxLookAheadBuffers = InputQueueMaxDepth

	// ReferenceListMaxLength bounds the reconstruction reference list.
	ReferenceListMaxLength = InputQueueMaxDepth

	SpeedControlInitMode   = 4
	DefaultRecodeTolerance = 25
)

// Config is the session configuration consumed by New.
type Config struct {
	// LookAheadBuffers is the number of look-ahead frames whose first-pass
	// statistics must be held at once. Zero disables look-ahead.
	LookAheadBuffers int

	// AvgFrameBandwidth seeds the rolling target/actual bits of every
	// rate-control parameter slot.
	AvgFrameBandwidth int64

	PictureDecisionDepth    int
	InputQueueDepth         int
	InitialRateControlDepth int
	PacketizationDepth      int
	PreAssignmentDepth      int
	CodedFramesStatDepth    int
	SceneChangeDepth        int
	RefFrames               int
	ParallelGOPs            int

	// ReferenceListLength sizes the reconstruction-stage reference list.
	// Zero means the list is not used by this session.
	ReferenceListLength int

	// MemoryBudget caps the bytes reserved by New. Zero means unlimited.
	MemoryBudget int64
}

// DefaultConfig returns a Config with every depth at its maximum.
func DefaultConfig() Config {
	return Config{
		PictureDecisionDepth:    PictureDecisionReorderQueueMaxDepth,
		InputQueueDepth:         InputQueueMaxDepth,
		InitialRateControlDepth: InitialRateControlReorderQueueMaxDepth,
		PacketizationDepth:      PacketizationReorderQueueMaxDepth,
		PreAssignmentDepth:      PreAssignmentMaxDepth,
		CodedFramesStatDepth:    CodedFramesStatQueueMaxDepth,
		SceneChangeDepth:        SceneChangeBufferMaxDepth,
		RefFrames:               RefFrames,
		ParallelGOPs:            ParallelGOPMaxNumber,
	}
}

// ConfigFromEnv overlays environment variables (optionally loaded from .env
// by config.Load) on DefaultConfig.
func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.LookAheadBuffers = config.GetEnvInt("LOOKAHEAD_BUFFERS", c.LookAheadBuffers)
	c.AvgFrameBandwidth = config.GetEnvInt64("AVG_FRAME_BANDWIDTH", c.AvgFrameBandwidth)
	c.PictureDecisionDepth = config.GetEnvInt("PICTURE_DECISION_DEPTH", c.PictureDecisionDepth)
	c.InputQueueDepth = config.GetEnvInt("INPUT_QUEUE_DEPTH", c.InputQueueDepth)
	c.InitialRateControlDepth = config.GetEnvInt("INITIAL_RC_DEPTH", c.InitialRateControlDepth)
	c.PacketizationDepth = config.GetEnvInt("PACKETIZATION_DEPTH", c.PacketizationDepth)
	c.PreAssignmentDepth = config.GetEnvInt("PRE_ASSIGNMENT_DEPTH", c.PreAssignmentDepth)
	c.CodedFramesStatDepth = config.GetEnvInt("CODED_FRAMES_STAT_DEPTH", c.CodedFramesStatDepth)
	c.SceneChangeDepth = config.GetEnvInt("SCENE_CHANGE_DEPTH", c.SceneChangeDepth)
	c.RefFrames = config.GetEnvInt("REF_FRAMES", c.RefFrames)
	c.ParallelGOPs = config.GetEnvInt("PARALLEL_GOPS", c.ParallelGOPs)
	c.ReferenceListLength = config.GetEnvInt("REFERENCE_LIST_LENGTH", c.ReferenceListLength)
	c.MemoryBudget = config.GetEnvInt64("MEMORY_BUDGET_BYTES", c.MemoryBudget)
	return c
}

// Validate reports the first unusable field, wrapped in ErrConfiguration.
func (c Config) Validate() error {
	bounded := []struct {
		name     string
		v        int
		min, max int
	}{
		{"picture decision depth", c.PictureDecisionDepth, 1, PictureDecisionReorderQueueMaxDepth},
		{"input queue depth", c.InputQueueDepth, 1, InputQueueMaxDepth},
		{"initial rate control depth", c.InitialRateControlDepth, 1, InitialRateControlReorderQueueMaxDepth},
		{"packetization depth", c.PacketizationDepth, 1, PacketizationReorderQueueMaxDepth},
		{"pre-assignment depth", c.PreAssignmentDepth, 1, PreAssignmentMaxDepth},
		{"coded frames stat depth", c.CodedFramesStatDepth, 1, CodedFramesStatQueueMaxDepth},
		{"scene change depth", c.SceneChangeDepth, 1, SceneChangeBufferMaxDepth},
		{"reference frames", c.RefFrames, 1, RefFrames},
		{"parallel GOPs", c.ParallelGOPs, 1, ParallelGOPMaxNumber},
		{"look-ahead buffers", c.LookAheadBuffers, 0, MaxLookAheadBuffers},
		{"reference list length", c.ReferenceListLength, 0, ReferenceListMaxLength},
	}
	for _, b := range bounded {
		if b.v < b.min || b.v > b.max {
			return fmt.Errorf("%w: %s must be in [%d, %d], got %d", ErrConfiguration, b.name, b.min, b.max, b.v)
		}
	}
	if c.AvgFrameBandwidth < 0 {
		return fmt.Errorf("%w: average frame bandwidth must not be negative, got %d", ErrConfiguration, c.AvgFrameBandwidth)
	}
	if c.MemoryBudget < 0 {
		return fmt.Errorf("%w: memory budget must not be negative, got %d", ErrConfiguration, c.MemoryBudget)
	}
	return nil
}
