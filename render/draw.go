package render

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/parklens/parklens/api/types"
)

// labelFace is the fixed bitmap face used for label text. A bitmap face
// keeps text rendering byte-identical across platforms.
var labelFace = basicfont.Face7x13

const labelPadding = 2

// parseHex reads a #RRGGBB color. Malformed input falls back to white.
func parseHex(s string) color.RGBA {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	hex := func(c byte) (uint8, bool) {
		switch {
		case c >= '0' && c <= '9':
			return c - '0', true
		case c >= 'a' && c <= 'f':
			return c - 'a' + 10, true
		case c >= 'A' && c <= 'F':
			return c - 'A' + 10, true
		}
		return 0, false
	}
	var out [3]uint8
	for i := 0; i < 3; i++ {
		hi, ok1 := hex(s[1+2*i])
		lo, ok2 := hex(s[2+2*i])
		if !ok1 || !ok2 {
			return color.RGBA{R: 255, G: 255, B: 255, A: 255}
		}
		out[i] = hi<<4 | lo
	}
	return color.RGBA{R: out[0], G: out[1], B: out[2], A: 255}
}

// pixelRect converts a normalized bounding box into pixel coordinates,
// clipped to the image bounds.
func pixelRect(b types.BBox, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		bounds.Min.X+int(b.X*w),
		bounds.Min.Y+int(b.Y*h),
		bounds.Min.X+int((b.X+b.Width)*w),
		bounds.Min.Y+int((b.Y+b.Height)*h),
	)
	return r.Intersect(bounds)
}

// drawBox strokes a rectangle outline of the given thickness, growing
// inward.
func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	for t := 0; t < thickness; t++ {
		inset := r.Inset(t)
		if inset.Empty() {
			return
		}
		for x := inset.Min.X; x < inset.Max.X; x++ {
			img.SetRGBA(x, inset.Min.Y, c)
			img.SetRGBA(x, inset.Max.Y-1, c)
		}
		for y := inset.Min.Y; y < inset.Max.Y; y++ {
			img.SetRGBA(inset.Min.X, y, c)
			img.SetRGBA(inset.Max.X-1, y, c)
		}
	}
}

// drawDot fills a circle centered at (cx, cy), clipped to the image.
func drawDot(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	if radius < 1 {
		radius = 1
	}
	bounds := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			p := image.Pt(cx+dx, cy+dy)
			if p.In(bounds) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// drawLine draws a straight segment with Bresenham's algorithm.
func drawLine(img *image.RGBA, from, to image.Point, c color.RGBA) {
	bounds := img.Bounds()
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	err := dx + dy
	x, y := from.X, from.Y
	for {
		if (image.Pt(x, y)).In(bounds) {
			img.SetRGBA(x, y, c)
		}
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// drawConnectedLabel places the class name above its box, connected by a
// line from the nearest box edge to the label's top-left corner. Labels
// are clipped to the image bounds.
func drawConnectedLabel(img *image.RGBA, det types.Detection, bounds image.Rectangle, style types.RenderStyle) {
	box := pixelRect(det.BBox, bounds)
	if box.Empty() {
		return
	}
	text := det.ClassName
	textWidth := font.MeasureString(labelFace, text).Ceil()
	textHeight := labelFace.Metrics().Height.Ceil()

	labelOrigin := image.Pt(box.Min.X, box.Min.Y-textHeight-2*labelPadding-4)
	labelRect := image.Rect(
		labelOrigin.X, labelOrigin.Y,
		labelOrigin.X+textWidth+2*labelPadding, labelOrigin.Y+textHeight+2*labelPadding,
	)
	// clip: slide the label inside the image rather than cutting text
	if labelRect.Min.Y < bounds.Min.Y {
		labelRect = labelRect.Add(image.Pt(0, bounds.Min.Y-labelRect.Min.Y))
	}
	if labelRect.Max.X > bounds.Max.X {
		labelRect = labelRect.Add(image.Pt(bounds.Max.X-labelRect.Max.X, 0))
	}
	if labelRect.Min.X < bounds.Min.X {
		labelRect = labelRect.Add(image.Pt(bounds.Min.X-labelRect.Min.X, 0))
	}

	drawLine(img, nearestEdgePoint(box, labelRect.Min), labelRect.Min, parseHex(style.ConnectorColor))
	fillAlpha(img, labelRect.Intersect(bounds), parseHex(style.TextBackground), style.TextAlpha)

	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(parseHex(style.LabelColor)),
		Face: labelFace,
		Dot: fixed.P(
			labelRect.Min.X+labelPadding,
			labelRect.Min.Y+labelPadding+labelFace.Metrics().Ascent.Ceil(),
		),
	}
	drawer.DrawString(text)
}

// nearestEdgePoint returns the point on the box perimeter closest to p.
func nearestEdgePoint(box image.Rectangle, p image.Point) image.Point {
	x := clampInt(p.X, box.Min.X, box.Max.X-1)
	y := clampInt(p.Y, box.Min.Y, box.Max.Y-1)
	if p.X >= box.Min.X && p.X < box.Max.X && p.Y >= box.Min.Y && p.Y < box.Max.Y {
		// inside: snap to the closest edge
		dTop := y - box.Min.Y
		dBottom := box.Max.Y - 1 - y
		dLeft := x - box.Min.X
		dRight := box.Max.X - 1 - x
		min := dTop
		out := image.Pt(x, box.Min.Y)
		if dBottom < min {
			min, out = dBottom, image.Pt(x, box.Max.Y-1)
		}
		if dLeft < min {
			min, out = dLeft, image.Pt(box.Min.X, y)
		}
		if dRight < min {
			out = image.Pt(box.Max.X-1, y)
		}
		return out
	}
	return image.Pt(x, y)
}

// fillAlpha blends a uniform color over rect at the given opacity.
func fillAlpha(img *image.RGBA, rect image.Rectangle, c color.RGBA, alpha float64) {
	if alpha <= 0 {
		return
	}
	if alpha > 1 {
		alpha = 1
	}
	over := color.RGBA{
		R: uint8(float64(c.R) * alpha),
		G: uint8(float64(c.G) * alpha),
		B: uint8(float64(c.B) * alpha),
		A: uint8(255 * alpha),
	}
	draw.Draw(img, rect, image.NewUniform(over), image.Point{}, draw.Over)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
