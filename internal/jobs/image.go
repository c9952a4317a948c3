package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"taskhub/internal/runtime"
)

type imagePayload struct {
	Filename string `json:"filename"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// ImageBuilder returns a job that shrinks an image in workDir to fit within
// the requested bounds, keeping its aspect ratio, and writes the result next
// to the original as processed_<name>. Images are never upscaled.
func ImageBuilder(workDir string) Builder {
	return func(payload json.RawMessage) (runtime.UnitOfWork, error) {
		var p imagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid image payload: %w", err)
		}
		if err := checkFilename(p.Filename); err != nil {
			return nil, err
		}
		if p.Width <= 0 {
			p.Width = 800
		}
		if p.Height <= 0 {
			p.Height = 600
		}

		src := filepath.Join(workDir, p.Filename)
		dest := filepath.Join(workDir, "processed_"+p.Filename)
		return func(ctx context.Context) error {
			return resizeImage(ctx, src, dest, p.Width, p.Height)
		}, nil
	}
}

func resizeImage(ctx context.Context, src, dest string, maxW, maxH int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	img, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", src, err)
	}

	b := img.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxW, maxH)
	scaled := img
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		scaled = dst
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	switch format {
	case "png":
		err = png.Encode(out, scaled)
	default:
		err = jpeg.Encode(out, scaled, nil)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

// fitWithin scales (w, h) down to fit in (maxW, maxH) preserving aspect
// ratio. Dimensions already inside the bounds are returned unchanged.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	rw := float64(maxW) / float64(w)
	rh := float64(maxH) / float64(h)
	r := rw
	if rh < r {
		r = rh
	}
	nw, nh := int(float64(w)*r), int(float64(h)*r)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
