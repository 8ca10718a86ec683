package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
)

// ActionAnnotation describes the minimal shape the computer-use loop
// (internal/computerloop) needs to annotate a screenshot: the action
// type and the geometry it acted on. Coordinates are in the
// screenshot's own pixel space.
type ActionAnnotation struct {
	Type     string // click, double_click, hover, drag, type, ...
	X, Y     int
	StartX   int
	StartY   int
	EndX     int
	EndY     int
}

var (
	crosshairRed  = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	crosshairBlue = color.RGBA{R: 40, G: 90, B: 220, A: 255}
	dragGreen     = color.RGBA{R: 40, G: 180, B: 90, A: 255}
	bannerColor   = color.RGBA{R: 250, G: 200, B: 40, A: 255}
)

const crosshairArmLen = 14
const lineThickness = 2

// Overlay annotates a clean PNG/JPEG screenshot with a visual trace of
// the action just executed: red crosshair for
// click/double_click, blue for hover, green start-and-end plus
// connecting line for drag, a top banner for type. The annotated
// variant is the one persisted as an artifact; the model only ever
// sees the clean copy.
func Overlay(screenshot []byte, action ActionAnnotation) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot for overlay: %w", err)
	}

	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)

	switch action.Type {
	case "click", "double_click":
		drawCrosshair(canvas, action.X, action.Y, crosshairRed)
	case "hover":
		drawCrosshair(canvas, action.X, action.Y, crosshairBlue)
	case "drag":
		drawCrosshair(canvas, action.StartX, action.StartY, dragGreen)
		drawCrosshair(canvas, action.EndX, action.EndY, dragGreen)
		drawLine(canvas, action.StartX, action.StartY, action.EndX, action.EndY, dragGreen)
	case "type":
		drawBanner(canvas, bannerColor)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode annotated screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

func drawCrosshair(img *image.RGBA, cx, cy int, c color.RGBA) {
	bounds := img.Bounds()
	for dx := -crosshairArmLen; dx <= crosshairArmLen; dx++ {
		setThick(img, bounds, cx+dx, cy, c)
	}
	for dy := -crosshairArmLen; dy <= crosshairArmLen; dy++ {
		setThick(img, bounds, cx, cy+dy, c)
	}
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	bounds := img.Bounds()
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	x, y := x0, y0
	for {
		setThick(img, bounds, x, y, c)
		if x == x1 && y == y1 {
			break
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

func drawBanner(img *image.RGBA, c color.RGBA) {
	bounds := img.Bounds()
	height := bounds.Dy() / 40
	if height < 4 {
		height = 4
	}
	for y := bounds.Min.Y; y < bounds.Min.Y+height && y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}

func setThick(img *image.RGBA, bounds image.Rectangle, x, y int, c color.RGBA) {
	for oy := -lineThickness / 2; oy <= lineThickness/2; oy++ {
		for ox := -lineThickness / 2; ox <= lineThickness/2; ox++ {
			px, py := x+ox, y+oy
			if px < bounds.Min.X || px >= bounds.Max.X || py < bounds.Min.Y || py >= bounds.Max.Y {
				continue
			}
			img.Set(px, py, c)
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
