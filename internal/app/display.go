package app

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/qibla_compass/internal/geo"
)

const (
	displayWidth    = 128
	displayHeight   = 64
	displayInterval = 200 * time.Millisecond

	dialCenterX = 100
	dialCenterY = 32
	dialRadius  = 26
)

// screen is the part of ssd1306.Dev the indicator draws on.
type screen interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// oled is an SSD1306 panel together with the bus it was opened on.
type oled struct {
	*ssd1306.Dev
	bus i2c.BusCloser
}

func openDisplay(busName string) (*oled, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", busName, err)
	}
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	return &oled{Dev: dev, bus: bus}, nil
}

func (o *oled) Close() {
	if err := o.Halt(); err != nil {
		log.Printf("display: halt error: %v", err)
	}
	o.bus.Close()
}

// runDisplay redraws the indicator from hub until ctx is done.
func runDisplay(ctx context.Context, dev screen, hub *Hub) {
	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ticker := time.NewTicker(displayInterval)
	defer ticker.Stop()

	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := dev.Draw(dev.Bounds(), renderIndicator(hub.Snapshot()), image.Point{}); err != nil {
			if failures == 0 {
				log.Printf("display: error updating display: %v", err)
			}
			failures++
			continue
		}
		failures = 0
	}
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawText(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newFrame()
	drawText(d, 10, 26, "Qibla compass")
	drawText(d, 25, 43, "starting")
	return img
}

// renderIndicator draws the text readout on the left and a dial with the
// Qibla needle on the right. The frame gets a border while aligned.
func renderIndicator(st State) *image1bit.VerticalLSB {
	img, d := newFrame()

	if st.Status.Error != "" && st.Heading == nil {
		drawText(d, 0, 26, "Compass")
		drawText(d, 0, 39, truncate(st.Status.Error, 18))
		return img
	}
	if st.Heading == nil {
		drawText(d, 0, 26, "Heading")
		drawText(d, 0, 39, "Waiting...")
		return img
	}

	drawText(d, 0, 13, fmt.Sprintf("H %5.1f", st.Heading.Heading))
	drawCircle(img, dialCenterX, dialCenterY, dialRadius)

	if st.Alignment == nil {
		drawText(d, 0, 26, "Q  ---")
		if st.Status.Location != "" {
			drawText(d, 0, 39, "no location")
		} else {
			drawText(d, 0, 39, "locating...")
		}
	} else {
		a := st.Alignment
		drawText(d, 0, 26, fmt.Sprintf("Q %5.1f", a.Target))
		if a.Aligned {
			drawText(d, 0, 39, "ALIGNED")
		} else {
			drawText(d, 0, 39, string(a.Direction))
		}
		drawText(d, 0, 52, fmt.Sprintf("%.0f km", a.DistanceKm))

		drawNeedle(img, geo.RotationAngle(a.Heading, a.Target))
		if a.Glow {
			drawBorder(img)
		}
	}

	if st.Calibrate {
		drawText(d, 0, 63, "calibrate")
	}
	return img
}

// drawNeedle draws a needle from the dial center; 0° points up, positive
// angles rotate clockwise.
func drawNeedle(img *image1bit.VerticalLSB, angle float64) {
	rad := geo.DegToRad(angle)
	x1 := dialCenterX + int(math.Round(math.Sin(rad)*(dialRadius-3)))
	y1 := dialCenterY - int(math.Round(math.Cos(rad)*(dialRadius-3)))
	drawLine(img, dialCenterX, dialCenterY, x1, y1)
}

func drawLine(img *image1bit.VerticalLSB, x0, y0, x1, y1 int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetBit(x0, y0, image1bit.On)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func drawCircle(img *image1bit.VerticalLSB, cx, cy, r int) {
	for deg := 0; deg < 360; deg += 3 {
		rad := geo.DegToRad(float64(deg))
		x := cx + int(math.Round(math.Cos(rad)*float64(r)))
		y := cy + int(math.Round(math.Sin(rad)*float64(r)))
		img.SetBit(x, y, image1bit.On)
	}
}

func drawBorder(img *image1bit.VerticalLSB) {
	for x := 0; x < displayWidth; x++ {
		img.SetBit(x, 0, image1bit.On)
		img.SetBit(x, displayHeight-1, image1bit.On)
	}
	for y := 0; y < displayHeight; y++ {
		img.SetBit(0, y, image1bit.On)
		img.SetBit(displayWidth-1, y, image1bit.On)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
