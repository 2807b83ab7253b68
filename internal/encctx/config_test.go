package encctx

import (
	"errors"
	"testing"
)

func TestConfig_Validate_bounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"picture_decision_at_max", func(c *Config) { c.PictureDecisionDepth = PictureDecisionReorderQueueMaxDepth }, false},
		{"picture_decision_over_max", func(c *Config) { c.PictureDecisionDepth = PictureDecisionReorderQueueMaxDepth + 1 }, true},
		{"picture_decision_huge", func(c *Config) { c.PictureDecisionDepth = 1 << 60 }, true},
		{"input_queue_over_max", func(c *Config) { c.InputQueueDepth = InputQueueMaxDepth + 1 }, true},
		{"initial_rc_over_max", func(c *Config) { c.InitialRateControlDepth = InitialRateControlReorderQueueMaxDepth + 1 }, true},
		{"packetization_over_max", func(c *Config) { c.PacketizationDepth = PacketizationReorderQueueMaxDepth + 1 }, true},
		{"pre_assignment_over_max", func(c *Config) { c.PreAssignmentDepth = PreAssignmentMaxDepth + 1 }, true},
		{"coded_frames_over_max", func(c *Config) { c.CodedFramesStatDepth = CodedFramesStatQueueMaxDepth + 1 }, true},
		{"scene_change_over_max", func(c *Config) { c.SceneChangeDepth = SceneChangeBufferMaxDepth + 1 }, true},
		{"ref_frames_over_max", func(c *Config) { c.RefFrames = RefFrames + 1 }, true},
		{"parallel_gops_over_max", func(c *Config) { c.ParallelGOPs = ParallelGOPMaxNumber + 1 }, true},
		{"lookahead_at_max", func(c *Config) { c.LookAheadBuffers = MaxLookAheadBuffers }, false},
		{"lookahead_max_int", func(c *Config) { c.LookAheadBuffers = int(^uint(0) >> 1) }, true},
		{"reference_list_over_max", func(c *Config) { c.ReferenceListLength = ReferenceListMaxLength + 1 }, true},
		{"negative_bandwidth", func(c *Config) { c.AvgFrameBandwidth = -1 }, true},
		{"negative_budget", func(c *Config) { c.MemoryBudget = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNew_oversized_depth_is_rejected(t *testing.T) {
	cfg := smallConfig()
	cfg.MemoryBudget = 1 << 20
	cfg.PictureDecisionDepth = 1 << 60

	ec, err := New(cfg, struct{}{})
	if ec != nil {
		t.Fatal("expected nil context")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}
