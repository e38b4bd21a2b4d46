package scene

import (
	"math"
	"testing"
)

func TestTrackSpeed(t *testing.T) {
	tr := newTrack("person", 5)
	tr.add(position{0, 0})
	tr.add(position{3, 4})
	tr.add(position{6, 8})

	// Net displacement 10 px over 2 intervals.
	if got := tr.speed(); math.Abs(got-5) > 1e-9 {
		t.Errorf("speed = %v, want 5", got)
	}
}

func TestTrackSpeedTooShort(t *testing.T) {
	tr := newTrack("person", 5)
	if tr.speed() != 0 {
		t.Error("empty track should have zero speed")
	}
	tr.add(position{10, 10})
	if tr.speed() != 0 {
		t.Error("single position should have zero speed")
	}
}

func TestTrackWindowSlides(t *testing.T) {
	tr := newTrack("person", 3)
	for i := 0; i < 7; i++ {
		tr.add(position{float64(i), 0})
	}

	if len(tr.positions) != 3 {
		t.Fatalf("window holds %d positions, want 3", len(tr.positions))
	}
	if tr.positions[0].x != 4 || tr.last().x != 6 {
		t.Errorf("window = %v, want [4 5 6]", tr.positions)
	}
}

func TestTrackPredictLinear(t *testing.T) {
	tr := newTrack("car", 5)
	tr.add(position{0, 0})
	tr.add(position{10, 5})
	tr.add(position{20, 10})

	p := tr.predict()
	if p.x != 30 || p.y != 15 {
		t.Errorf("predicted (%v, %v), want (30, 15)", p.x, p.y)
	}
}

func TestTrackPredictNeedsHistory(t *testing.T) {
	tr := newTrack("car", 5)
	tr.add(position{5, 5})
	tr.add(position{10, 10})

	p := tr.predict()
	if p.x != 10 || p.y != 10 {
		t.Errorf("predicted (%v, %v), want the last position", p.x, p.y)
	}
}

func TestTrackApproaching(t *testing.T) {
	center := position{320, 240}

	toward := newTrack("car", 5)
	toward.add(position{100, 240})
	toward.add(position{160, 240})
	toward.add(position{220, 240})
	if !toward.approaching(center) {
		t.Error("track moving toward the centre should be approaching")
	}

	away := newTrack("car", 5)
	away.add(position{220, 240})
	away.add(position{160, 240})
	away.add(position{100, 240})
	if away.approaching(center) {
		t.Error("track moving away should not be approaching")
	}

	still := newTrack("car", 5)
	still.add(position{100, 240})
	still.add(position{100, 240})
	if still.approaching(center) {
		t.Error("short track should not be approaching")
	}
}

func TestTrackActivityBands(t *testing.T) {
	still := newTrack("chair", 5)
	for i := 0; i < 5; i++ {
		still.add(position{100, 100})
	}
	if got := still.activity(); got != "static" {
		t.Errorf("activity = %q, want static", got)
	}

	walking := newTrack("person", 5)
	for i := 0; i < 5; i++ {
		walking.add(position{float64(i * 3), 100})
	}
	if got := walking.activity(); got != "walking" {
		t.Errorf("activity = %q, want walking (variance %v)", got, walking.variance())
	}

	active := newTrack("dog", 5)
	for i := 0; i < 5; i++ {
		active.add(position{float64((i % 2) * 40), 100})
	}
	if got := active.activity(); got != "active" {
		t.Errorf("activity = %q, want active (variance %v)", got, active.variance())
	}
}
