package encctx

import "testing"

func TestDPB_entries_created_once(t *testing.T) {
	d := NewDPB(RefFrames)
	if d.Len() != RefFrames {
		t.Fatalf("Len = %d, want %d", d.Len(), RefFrames)
	}
	first := d.Entry(3)
	d.Assign(3, 40, 12, InterFrame)
	if d.Entry(3) != first {
		t.Error("Assign should mutate the entry in place")
	}
	if first.Index != 3 || first.PictureNumber != 40 || !first.Valid {
		t.Errorf("entry after Assign: %+v", *first)
	}
}

func TestDPB_reference_lifecycle(t *testing.T) {
	d := NewDPB(4)
	d.Assign(0, 0, 0, KeyFrame)
	d.Assign(2, 8, 1, InterFrame)
	d.Retain(0)

	if live := d.Live(); len(live) != 2 || live[0] != 0 || live[1] != 2 {
		t.Fatalf("Live = %v, want [0 2]", live)
	}

	if d.Release(0) {
		t.Error("slot 0 still has a reference, should not be freed")
	}
	if !d.Release(0) {
		t.Error("slot 0 should be freed on last release")
	}
	if d.Release(0) {
		t.Error("releasing an invalid slot should be a no-op")
	}
	if live := d.Live(); len(live) != 1 || live[0] != 2 {
		t.Errorf("Live = %v, want [2]", live)
	}

	snap := d.Snapshot()
	snap[2].Valid = false
	if !d.Entry(2).Valid {
		t.Error("Snapshot must be a copy")
	}
}

func TestDPB_out_of_range_panics(t *testing.T) {
	d := NewDPB(2)
	for _, i := range []int{-1, 2} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for index %d", i)
				}
			}()
			d.Entry(i)
		}()
	}
}

func TestDPB_Retain_invalid_panics(t *testing.T) {
	d := NewDPB(2)
	defer func() {
		if recover() == nil {
			t.Error("expected panic retaining an unassigned slot")
		}
	}()
	d.Retain(1)
}
