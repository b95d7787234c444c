package visiontool

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	_ "image/gif"               // register GIF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/MrWong99/lookout/pkg/types"
)

const jpegQuality = 85

// downscale returns img with its longest edge at most maxEdge pixels. PNG
// input stays PNG; everything else is re-encoded as JPEG. Images already
// within bounds are returned unchanged without decoding the pixels.
func downscale(img types.Image, maxEdge int) (types.Image, error) {
	if maxEdge <= 0 || len(img.Data) == 0 {
		return img, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return img, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= maxEdge && cfg.Height <= maxEdge {
		img.Width, img.Height = cfg.Width, cfg.Height
		return img, nil
	}

	src, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return img, fmt.Errorf("decode image: %w", err)
	}
	w, h := fitWithin(cfg.Width, cfg.Height, maxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	out := img
	if format == "png" {
		err = png.Encode(&buf, dst)
		out.MIMEType = "image/png"
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
		out.MIMEType = "image/jpeg"
	}
	if err != nil {
		return img, fmt.Errorf("encode image: %w", err)
	}
	out.Data = buf.Bytes()
	out.Width, out.Height = w, h
	return out, nil
}

// fitWithin scales w×h so the longest edge equals maxEdge, keeping the aspect
// ratio and never going below one pixel.
func fitWithin(w, h, maxEdge int) (int, int) {
	if w >= h {
		nh := h * maxEdge / w
		return maxEdge, max(nh, 1)
	}
	nw := w * maxEdge / h
	return max(nw, 1), maxEdge
}
