// Package imagegen draws the share cards attached to trade-close and weekly
// report messages, and fetches announcement images, into temporary files.
// Callers own the returned path and must remove it.
package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"  // avatar decoders
	_ "image/jpeg" // avatar decoders

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	xdraw "golang.org/x/image/draw"

	"github.com/tbourn/signal-relay/internal/events"
	"github.com/tbourn/signal-relay/internal/render"
)

const (
	cardWidth  = 1200
	cardHeight = 675
	maxFetch   = 10 << 20
)

var (
	colorBackground = color.RGBA{40, 40, 40, 255}
	colorWhite      = color.RGBA{255, 255, 255, 255}
	colorMuted      = color.RGBA{200, 200, 200, 255}
	colorGain       = color.RGBA{0, 191, 99, 255}
	colorLoss       = color.RGBA{237, 29, 36, 255}
)

// ErrUnsupported is returned for kinds that carry no image.
var ErrUnsupported = errors.New("imagegen: kind has no image")

// Generator writes cards under Dir.
type Generator struct {
	dir    string
	client *http.Client
	log    zerolog.Logger
}

// New returns a Generator writing into dir (os.TempDir when empty).
func New(dir string, fetchTimeout time.Duration) *Generator {
	if dir == "" {
		dir = os.TempDir()
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Generator{
		dir:    dir,
		client: &http.Client{Timeout: fetchTimeout},
		log:    log.With().Str("component", "imagegen").Logger(),
	}
}

// For produces the attachment for ev and returns its path.
func (g *Generator) For(ctx context.Context, ev events.Event) (string, error) {
	tr := otel.Tracer("imagegen")
	ctx, span := tr.Start(ctx, "Generate")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(ev.Kind)))

	switch ev.Kind {
	case events.KindTradeClose:
		return g.save(g.TradeClose(ev.Payload))
	case events.KindWeekly:
		return g.save(g.Weekly(ctx, ev.Payload))
	case events.KindAnnouncement:
		if ev.Payload.Has("image_url") {
			return g.Download(ctx, ev.Payload.Str("image_url"))
		}
	}
	return "", ErrUnsupported
}

// TradeClose draws the closed-position card: pair, direction and leverage,
// cumulative ROI, and exit/entry prices.
func (g *Generator) TradeClose(p events.Payload) (image.Image, error) {
	img := newCanvas(colorBackground)

	long := p.Str("pair_side") == "1"
	dirColor := colorLoss
	side := "Short"
	if long {
		dirColor, side = colorGain, "Long"
	}
	pct, _ := p.Float("realized_pnl_percentage")
	roiColor := colorGain
	if pct < 0 {
		roiColor = colorLoss
	}

	drawText(img, 80, 70, 4, colorWhite, p.Str("pair")+" Perpetual")
	drawText(img, 80, 140, 3, dirColor, fmt.Sprintf("%s %sX", side, render.FormatNumber(p["pair_leverage"])))
	drawText(img, 80, 265, 4, colorMuted, "Cumulative ROI")
	drawText(img, 80, 340, 9, roiColor, render.FormatFloat(pct*100)+"%")
	drawText(img, 80, 500, 3, colorMuted, "Exit Price")
	drawText(img, 290, 500, 3, colorWhite, p.Str("exit_price"))
	drawText(img, 80, 560, 3, colorMuted, "Entry Price")
	drawText(img, 290, 560, 3, colorWhite, p.Str("entry_price"))
	return img, nil
}

// Weekly draws the weekly summary card with the trader avatar, 7D ROI and
// 7D PNL. A missing avatar leaves a neutral placeholder.
func (g *Generator) Weekly(ctx context.Context, p events.Payload) (image.Image, error) {
	img := newCanvas(color.RGBA{0, 0, 0, 255})

	avatar, err := g.fetchImage(ctx, p.Str("trader_url"))
	if err != nil {
		g.log.Debug().Err(err).Msg("avatar unavailable")
	}
	drawAvatar(img, avatar, image.Pt(100, 150), 180)

	roi, _ := p.Float("total_roi")
	pnl, _ := p.Float("total_pnl")
	roiColor := colorGain
	if roi < 0 {
		roiColor = colorLoss
	}
	pnlColor := colorGain
	if pnl < 0 {
		pnlColor = colorLoss
	}

	drawText(img, 320, 200, 5, colorWhite, p.Str("trader_name"))
	drawText(img, 100, 415, 7, roiColor, render.FormatFloat(roi*100)+"%")
	drawText(img, 650, 415, 7, pnlColor, "$"+render.FormatFloat(pnl))
	drawText(img, 100, 530, 3, colorMuted, "7D ROI")
	drawText(img, 650, 530, 3, colorMuted, "7D PNL")
	return img, nil
}

// Download stores a remote image verbatim.
func (g *Generator) Download(ctx context.Context, url string) (string, error) {
	body, ctype, err := g.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	ext := ".jpg"
	switch {
	case strings.Contains(ctype, "png"):
		ext = ".png"
	case strings.Contains(ctype, "gif"):
		ext = ".gif"
	}
	path := g.tempPath(ext)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (g *Generator) save(img image.Image, err error) (string, error) {
	if err != nil {
		return "", err
	}
	path := g.tempPath(".png")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (g *Generator) tempPath(ext string) string {
	return filepath.Join(g.dir, "card-"+uuid.NewString()+ext)
}

func (g *Generator) fetch(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", errors.New("imagegen: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("imagegen: fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetch))
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("imagegen: fetch %s: empty body", url)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (g *Generator) fetchImage(ctx context.Context, url string) (image.Image, error) {
	body, _, err := g.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	return img, err
}

func newCanvas(bg color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, xdraw.Src)
	return img
}

// drawAvatar scales src into a circle of diameter size at origin.
func drawAvatar(dst *image.RGBA, src image.Image, origin image.Point, size int) {
	rect := image.Rect(origin.X, origin.Y, origin.X+size, origin.Y+size)
	tile := image.NewRGBA(image.Rect(0, 0, size, size))
	if src != nil {
		xdraw.CatmullRom.Scale(tile, tile.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	} else {
		xdraw.Draw(tile, tile.Bounds(), image.NewUniform(color.RGBA{90, 90, 90, 255}), image.Point{}, xdraw.Src)
	}
	xdraw.DrawMask(dst, rect, tile, image.Point{}, &circle{r: size / 2}, image.Point{}, xdraw.Over)
}

// circle is an alpha mask for a disc of radius r anchored at (0,0).
type circle struct{ r int }

func (c *circle) ColorModel() color.Model { return color.AlphaModel }
func (c *circle) Bounds() image.Rectangle { return image.Rect(0, 0, 2*c.r, 2*c.r) }
func (c *circle) At(x, y int) color.Color {
	dx, dy := float64(x-c.r)+0.5, float64(y-c.r)+0.5
	if dx*dx+dy*dy <= float64(c.r*c.r) {
		return color.Alpha{255}
	}
	return color.Alpha{0}
}
