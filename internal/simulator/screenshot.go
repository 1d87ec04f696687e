package simulator

import (
	"bytes"
	"encoding/base64"
	"hash/fnv"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/chromelink/internal/domain/command"
)

const (
	viewportWidth  = 320
	viewportHeight = 200
	fullPageHeight = 640
)

// capture renders a flat placeholder frame tinted by the page URL, so
// distinct pages yield distinct images
func capture(p *page, params *command.CaptureScreenshotParams) (interface{}, error) {
	height := viewportHeight
	if params.FullPage {
		height = fullPageHeight
	}

	h := fnv.New32a()
	h.Write([]byte(p.url))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, viewportWidth, height))
	for y := 0; y < height; y++ {
		for x := 0; x < viewportWidth; x++ {
			img.SetRGBA(x, y, fill)
		}
	}

	var buf bytes.Buffer
	var err error
	switch params.Format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(params.Quality)})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, execError("Screenshot failed: %v", err)
	}

	mime := mimetype.Detect(buf.Bytes()).String()
	return map[string]interface{}{
		"dataUrl": "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		"format":  params.Format,
		"width":   viewportWidth,
		"height":  height,
	}, nil
}

func clampQuality(q int) int {
	if q <= 0 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
