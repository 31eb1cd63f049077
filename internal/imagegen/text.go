package imagegen

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var face = basicfont.Face7x13

// drawText renders s with its top-left corner at (x, y). The bitmap face is
// rasterised at native size and scaled by an integer factor.
func drawText(dst draw.Image, x, y, scale int, c color.Color, s string) {
	if s == "" || scale <= 0 {
		return
	}
	w := font.MeasureString(face, s).Ceil()
	h := face.Metrics().Height.Ceil()
	if w <= 0 || h <= 0 {
		return
	}

	glyphs := image.NewAlpha(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)

	mask := image.NewAlpha(image.Rect(0, 0, w*scale, h*scale))
	draw.NearestNeighbor.Scale(mask, mask.Bounds(), glyphs, glyphs.Bounds(), draw.Src, nil)

	rect := image.Rect(x, y, x+w*scale, y+h*scale)
	draw.DrawMask(dst, rect, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

