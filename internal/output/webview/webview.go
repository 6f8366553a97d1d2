// Package webview serves the most recent matrix frame over HTTP.
package webview

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"libdb.so/matrixglow/internal/led"
	"libdb.so/matrixglow/internal/panel"
)

// MaxScale is the largest upscaling factor /frame accepts.
const MaxScale = 32

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>matrixglow</title></head>
<body style="background:#000;margin:0">
<img id="frame" src="/frame?scale=16" style="image-rendering:pixelated">
<script>
setInterval(() => {
	document.getElementById("frame").src = "/frame?scale=16&t=" + Date.now();
}, 100);
</script>
</body>
</html>
`

// Status is the body of GET /status.
type Status struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Frames    uint64    `json:"frames"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Output is a panel.Output that keeps the last shown frame for HTTP clients.
type Output struct {
	addr   string
	logger *slog.Logger
	app    *fiber.App

	mu      sync.RWMutex
	frame   *led.Frame
	frames  uint64
	updated time.Time
}

var _ panel.Output = (*Output)(nil)

// New creates a web preview listening on addr. An empty addr registers the
// routes without listening.
func New(addr string, logger *slog.Logger) *Output {
	o := &Output{
		addr:   addr,
		logger: logger,
	}

	o.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	o.app.Get("/", o.serveIndex)
	o.app.Get("/frame", o.serveFrame)
	o.app.Get("/status", o.serveStatus)

	return o
}

// Open implements panel.Output.
func (o *Output) Open(width, height int) error {
	o.mu.Lock()
	o.frame = led.NewFrame(width, height)
	o.mu.Unlock()

	if o.addr == "" {
		return nil
	}

	go func() {
		o.logger.Info(
			"web preview listening",
			"addr", o.addr)

		if err := o.app.Listen(o.addr); err != nil {
			o.logger.Error(
				"web preview stopped",
				"err", err)
		}
	}()

	return nil
}

// Show implements panel.Output.
func (o *Output) Show(frame *led.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.frame.CopyFrom(frame)
	o.frames++
	o.updated = time.Now()
	return nil
}

// Close implements panel.Output.
func (o *Output) Close() error {
	if o.addr == "" {
		return nil
	}
	return o.app.Shutdown()
}

func (o *Output) serveIndex(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(indexHTML)
}

func (o *Output) serveFrame(c *fiber.Ctx) error {
	scale := c.QueryInt("scale", 1)
	if scale < 1 || scale > MaxScale {
		return c.Status(fiber.StatusBadRequest).SendString("scale must be between 1 and " + strconv.Itoa(MaxScale))
	}

	img, ok := o.snapshot(scale)
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).SendString("No frame available")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to encode image")
	}

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(buf.Bytes())
}

func (o *Output) serveStatus(c *fiber.Ctx) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var s Status
	if o.frame != nil {
		s.Width = o.frame.Width
		s.Height = o.frame.Height
	}
	s.Frames = o.frames
	s.UpdatedAt = o.updated

	return c.JSON(s)
}

func (o *Output) snapshot(scale int) (*image.RGBA, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.frame == nil {
		return nil, false
	}

	f := o.frame
	img := image.NewRGBA(image.Rect(0, 0, f.Width*scale, f.Height*scale))

	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b := f.At(x, y).RGB()
			c := color.RGBA{R: r, G: g, B: b, A: 0xFF}

			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetRGBA(x*scale+dx, y*scale+dy, c)
				}
			}
		}
	}

	return img, true
}
