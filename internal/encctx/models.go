package encctx

// Picture is the pixel pipeline's per-picture object as seen by this
// package: a picture number plus an opaque payload that is never inspected.
type Picture struct {
	Number uint64
	Data   any
}

// FrameType is the coded frame type of a picture.
type FrameType uint8

const (
	KeyFrame FrameType = iota
	InterFrame
	IntraOnlyFrame
	SwitchFrame
)

func (t FrameType) String() string {
	switch t {
	case KeyFrame:
		return "key"
	case InterFrame:
		return "inter"
	case IntraOnlyFrame:
		return "intra_only"
	case SwitchFrame:
		return "switch"
	}
	return "unknown"
}

// PictureDecisionEntry holds a picture waiting for its turn in picture
// decision.
type PictureDecisionEntry struct {
	Picture Picture
}

// InputQueueEntry holds a picture released from picture decision together
// with the reference bookkeeping computed for it.
type InputQueueEntry struct {
	Picture             Picture
	ReferenceEntryIndex int
	DependentCount      int
}

// InitialRateControlEntry holds a picture waiting for initial rate control.
type InitialRateControlEntry struct {
	Picture Picture
}

// PacketizationEntry holds a coded picture waiting to be emitted in
// decode order.
type PacketizationEntry struct {
	Picture           Picture
	FrameType         FrameType
	TotalBits         uint64
	IsAltRef          bool
	ShowFrame         bool
	ShowExistingFrame bool
}

// ReferenceEntry is one reconstruction-stage reference list slot.
type ReferenceEntry struct {
	Picture        Picture
	DecodeOrder    uint64
	ReferenceCount int
	ReleaseEnable  bool
	FrameType      FrameType
}

// CodedFramesStatEntry records the bits spent on one coded frame.
type CodedFramesStatEntry struct {
	PictureNumber  uint64
	FrameTotalBits int64
	EndOfSequence  bool
}

func newPictureDecisionEntry(int) PictureDecisionEntry { return PictureDecisionEntry{} }

func newInputQueueEntry(int) InputQueueEntry {
	return InputQueueEntry{ReferenceEntryIndex: -1}
}

func newInitialRateControlEntry(int) InitialRateControlEntry { return InitialRateControlEntry{} }

func newPacketizationEntry(int) PacketizationEntry {
	return PacketizationEntry{ShowFrame: true}
}

func newReferenceEntry(int) ReferenceEntry {
	return ReferenceEntry{ReleaseEnable: true}
}

func newCodedFramesStatEntry(int) CodedFramesStatEntry { return CodedFramesStatEntry{} }
