package annotation

import "testing"

func TestAddStrokeUsesDefaultsWhenUnset(t *testing.T) {
	s := New()
	s.AddStroke(Point{X: 10, Y: 20})

	snap := s.Snapshot()
	if len(snap.Strokes) != 1 {
		t.Fatalf("Strokes = %d, want 1", len(snap.Strokes))
	}
	got := snap.Strokes[0]
	if got.Point != (Point{X: 10, Y: 20}) {
		t.Errorf("Point = %v, want (10,20)", got.Point)
	}
	if got.Color != Red {
		t.Errorf("Color = %v, want %v", got.Color, Red)
	}
	if got.Radius != DefaultStrokeRadius {
		t.Errorf("Radius = %d, want %d", got.Radius, DefaultStrokeRadius)
	}
}

func TestAddMosaicUsesDefaultBlockSize(t *testing.T) {
	s := New()
	s.AddMosaic(0, 0, 100, 100)

	snap := s.Snapshot()
	if len(snap.Zones) != 1 {
		t.Fatalf("Zones = %d, want 1", len(snap.Zones))
	}
	if snap.Zones[0].BlockSize != DefaultMosaicBlockSize {
		t.Errorf("BlockSize = %d, want %d", snap.Zones[0].BlockSize, DefaultMosaicBlockSize)
	}
}

func TestSnapshotIsIndependentOfSubsequentMutation(t *testing.T) {
	s := New()
	s.AddStroke(Point{X: 1, Y: 1})
	snap := s.Snapshot()

	s.AddStroke(Point{X: 2, Y: 2})
	s.Clear()

	if len(snap.Strokes) != 1 {
		t.Fatalf("snapshot observed a later mutation: Strokes = %d, want 1", len(snap.Strokes))
	}
}

func TestClearRemovesStrokesAndZonesButKeepsMode(t *testing.T) {
	s := New()
	s.SetMode(ModeMosaic)
	s.AddStroke(Point{X: 1, Y: 1})
	s.AddMosaic(0, 0, 10, 10)

	s.Clear()

	snap := s.Snapshot()
	if len(snap.Strokes) != 0 || len(snap.Zones) != 0 {
		t.Fatalf("Clear() left strokes=%d zones=%d, want 0/0", len(snap.Strokes), len(snap.Zones))
	}
	if s.Mode() != ModeMosaic {
		t.Errorf("Mode() = %v, want ModeMosaic", s.Mode())
	}
}

func TestMosaicOnlyDropsStrokes(t *testing.T) {
	s := New()
	s.AddStroke(Point{X: 1, Y: 1})
	s.AddMosaic(0, 0, 10, 10)

	snap := s.Snapshot().MosaicOnly()
	if len(snap.Strokes) != 0 {
		t.Errorf("MosaicOnly() kept %d strokes, want 0", len(snap.Strokes))
	}
	if len(snap.Zones) != 1 {
		t.Errorf("MosaicOnly() has %d zones, want 1", len(snap.Zones))
	}
}

func TestSetModeSwitchesActiveTool(t *testing.T) {
	s := New()
	s.SetMode(ModePen)
	if s.Mode() != ModePen {
		t.Fatalf("Mode() = %v, want ModePen", s.Mode())
	}

	s.SetMode(ModeMosaic)
	if s.Mode() != ModeMosaic {
		t.Fatalf("Mode() = %v, want ModeMosaic", s.Mode())
	}
}
