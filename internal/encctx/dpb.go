package encctx

import "fmt"

// DPBEntry is picture decision's view of one reference frame slot. Picture
// decision runs ahead of reconstruction, so it keeps this table instead of
// looking at the reconstruction reference buffer.
type DPBEntry struct {
	Index         int
	PictureNumber uint64
	DecodeOrder   uint64
	FrameType     FrameType
	RefCount      int
	Valid         bool
}

// DPB is the fixed-size decoded-picture tracking table.
type DPB struct {
	entries []DPBEntry
}

// NewDPB allocates n entries, each tagged with its index.
func NewDPB(n int) *DPB {
	if n <= 0 {
		panic(fmt.Sprintf("encctx: dpb size must be positive, got %d", n))
	}
	d := &DPB{entries: make([]DPBEntry, n)}
	for i := range d.entries {
		d.entries[i] = DPBEntry{Index: i}
	}
	return d
}

// Len returns the number of reference slots.
func (d *DPB) Len() int { return len(d.entries) }

// Entry returns the entry at index i for in-place updates.
func (d *DPB) Entry(i int) *DPBEntry {
	d.check(i)
	return &d.entries[i]
}

// Assign makes slot i track picture pn, replacing whatever it tracked.
func (d *DPB) Assign(i int, pn, decodeOrder uint64, ft FrameType) {
	d.check(i)
	d.entries[i] = DPBEntry{
		Index:         i,
		PictureNumber: pn,
		DecodeOrder:   decodeOrder,
		FrameType:     ft,
		RefCount:      1,
		Valid:         true,
	}
}

// Retain adds one pending reference to slot i.
func (d *DPB) Retain(i int) {
	e := d.Entry(i)
	if !e.Valid {
		panic(fmt.Sprintf("encctx: retain on invalid dpb slot %d", i))
	}
	e.RefCount++
}

// Release drops one reference from slot i and invalidates the slot when
// none are left. It reports whether the slot became free.
func (d *DPB) Release(i int) bool {
	e := d.Entry(i)
	if !e.Valid {
		return false
	}
	e.RefCount--
	if e.RefCount <= 0 {
		e.RefCount = 0
		e.Valid = false
		return true
	}
	return false
}

// Live returns the indices of valid entries in slot order.
func (d *DPB) Live() []int {
	var live []int
	for i := range d.entries {
		if d.entries[i].Valid {
			live = append(live, i)
		}
	}
	return live
}

// Snapshot copies the table.
func (d *DPB) Snapshot() []DPBEntry {
	out := make([]DPBEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

func (d *DPB) check(i int) {
	if i < 0 || i >= len(d.entries) {
		panic(fmt.Sprintf("encctx: dpb index %d out of range [0, %d)", i, len(d.entries)))
	}
}
