package scene

import "math"

type position struct {
	x, y float64
}

func (p position) distanceTo(o position) float64 {
	return math.Hypot(p.x-o.x, p.y-o.y)
}

// track follows one label across observations with a bounded ring of box
// centres in pixel space. Newest position is last.
type track struct {
	label     string
	positions []position
	window    int
}

func newTrack(label string, window int) *track {
	if window < 2 {
		window = 2
	}
	return &track{
		label:     label,
		positions: make([]position, 0, window),
		window:    window,
	}
}

func (t *track) add(p position) {
	if len(t.positions) == t.window {
		copy(t.positions, t.positions[1:])
		t.positions[len(t.positions)-1] = p
		return
	}
	t.positions = append(t.positions, p)
}

func (t *track) last() position {
	if len(t.positions) == 0 {
		return position{}
	}
	return t.positions[len(t.positions)-1]
}

// speed is the net displacement across the window divided by the number
// of frame intervals, in pixels per frame.
func (t *track) speed() float64 {
	n := len(t.positions)
	if n < 2 {
		return 0
	}
	return t.positions[0].distanceTo(t.positions[n-1]) / float64(n-1)
}

// predict extrapolates one frame ahead linearly. With fewer than three
// positions the motion estimate is too noisy, so the last position
// stands.
func (t *track) predict() position {
	n := len(t.positions)
	if n < 3 {
		return t.last()
	}
	last := t.positions[n-1]
	prev := t.positions[n-2]
	return position{
		x: last.x + (last.x - prev.x),
		y: last.y + (last.y - prev.y),
	}
}

// approaching reports whether the predicted position closes on the given
// reference point.
func (t *track) approaching(ref position) bool {
	if len(t.positions) < 3 {
		return false
	}
	return t.predict().distanceTo(ref) < t.last().distanceTo(ref)
}

// variance is the mean of the per-axis positional variances, used as
// the activity intensity measure.
func (t *track) variance() float64 {
	n := len(t.positions)
	if n < 2 {
		return 0
	}

	var mx, my float64
	for _, p := range t.positions {
		mx += p.x
		my += p.y
	}
	mx /= float64(n)
	my /= float64(n)

	var vx, vy float64
	for _, p := range t.positions {
		vx += (p.x - mx) * (p.x - mx)
		vy += (p.y - my) * (p.y - my)
	}
	return (vx + vy) / (2 * float64(n))
}

// Activity bands over positional variance, px^2.
const (
	staticVariance = 1.0
	activeVariance = 100.0
)

func (t *track) activity() string {
	v := t.variance()
	switch {
	case v <= staticVariance:
		return "static"
	case v >= activeVariance:
		return "active"
	default:
		return "walking"
	}
}
