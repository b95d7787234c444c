package visiontool

import (
	"bytes"
	"image"
	"testing"

	"github.com/MrWong99/lookout/pkg/types"
)

func TestFitWithin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		w, h, edge   int
		wantW, wantH int
	}{
		{1920, 1080, 768, 768, 432},
		{1080, 1920, 768, 432, 768},
		{1000, 1000, 500, 500, 500},
		{4000, 2, 100, 100, 1},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, tt.edge)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fitWithin(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.edge, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestDownscale_JPEGStaysJPEG(t *testing.T) {
	t.Parallel()

	in := types.Image{Data: encodeJPEG(t, 300, 150), MIMEType: "image/jpeg"}
	out, err := downscale(in, 60)
	if err != nil {
		t.Fatalf("downscale: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" || out.MIMEType != "image/jpeg" || cfg.Width != 60 || cfg.Height != 30 {
		t.Errorf("got %s %s %dx%d", format, out.MIMEType, cfg.Width, cfg.Height)
	}
}

func TestDownscale_SmallImageUntouched(t *testing.T) {
	t.Parallel()

	data := encodePNG(t, 10, 20)
	out, err := downscale(types.Image{Data: data, MIMEType: "image/png"}, 64)
	if err != nil {
		t.Fatalf("downscale: %v", err)
	}
	if !bytes.Equal(out.Data, data) {
		t.Error("small image was re-encoded")
	}
	if out.Width != 10 || out.Height != 20 {
		t.Errorf("dims = %dx%d, want 10x20", out.Width, out.Height)
	}
}

func TestDownscale_Garbage(t *testing.T) {
	t.Parallel()

	in := types.Image{Data: []byte("not an image"), MIMEType: "image/jpeg"}
	out, err := downscale(in, 64)
	if err == nil {
		t.Fatal("expected error for undecodable data")
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("original must be returned on error")
	}
}
