package selection

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned box in page coordinates, origin top-left.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

func (r Rect) Empty() bool {
	return r.Width <= 0 && r.Height <= 0
}

// popoverGap is the distance kept between the selection and the popover.
const popoverGap = 8

// PlacePopover positions a popover of the given size centered above anchor, flipping
// below it when there is no room on top, then clamps the result into viewport.
func PlacePopover(anchor Rect, popover Size, viewport Rect) Point {
	p := Point{
		X: anchor.X + anchor.Width/2 - popover.Width/2,
		Y: anchor.Y - popover.Height - popoverGap,
	}
	if p.Y < viewport.Y {
		p.Y = anchor.Bottom() + popoverGap
	}
	return ClampPoint(p, popover, viewport)
}

// ClampPoint moves p so a box of size s starting at p lies inside viewport. A box larger
// than the viewport is pinned to its top-left corner.
func ClampPoint(p Point, s Size, viewport Rect) Point {
	p.X = clamp(p.X, viewport.X, viewport.Right()-s.Width)
	p.Y = clamp(p.Y, viewport.Y, viewport.Bottom()-s.Height)
	return p
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
