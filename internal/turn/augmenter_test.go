package turn

import (
	"testing"
	"time"

	"github.com/MrWong99/lookout/internal/visual"
	"github.com/MrWong99/lookout/pkg/types"
	"github.com/MrWong99/lookout/pkg/video"
)

func testFrame() video.Frame {
	return video.Frame{
		Data:       []byte{0xff, 0xd8, 0xff},
		MIMEType:   "image/jpeg",
		Width:      640,
		Height:     480,
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		TrackID:    "alice/camera",
	}
}

func TestAugment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		seed      bool
		msg       types.Message
		wantAdded bool
		wantParts int
		wantLeft  bool // frame still buffered afterwards
	}{
		{
			name:      "frame present attaches one image",
			seed:      true,
			msg:       types.Message{Role: "user", Content: "what do you see?"},
			wantAdded: true,
			wantParts: 1,
		},
		{
			name:      "empty buffer leaves turn unchanged",
			msg:       types.Message{Role: "user", Content: "hello"},
			wantParts: 0,
		},
		{
			name: "turn with image is not augmented again",
			seed: true,
			msg: types.Message{Role: "user", Content: "look", Parts: []types.Part{
				types.ImagePart(types.Image{Data: []byte{1}, MIMEType: "image/png"}),
			}},
			wantParts: 1,
			wantLeft:  true,
		},
		{
			name: "text parts are preserved before the image",
			seed: true,
			msg: types.Message{Role: "user", Content: "a", Parts: []types.Part{
				types.TextPart("b"),
			}},
			wantAdded: true,
			wantParts: 2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := visual.NewBuffer()
			if tc.seed {
				buf.Set(testFrame())
			}
			a := NewAugmenter(buf)
			msg := tc.msg
			msg.Parts = append([]types.Part(nil), tc.msg.Parts...)

			if got := a.Augment(&msg); got != tc.wantAdded {
				t.Errorf("Augment = %v, want %v", got, tc.wantAdded)
			}
			if len(msg.Parts) != tc.wantParts {
				t.Fatalf("parts = %d, want %d", len(msg.Parts), tc.wantParts)
			}
			if msg.ImageCount() > 1 {
				t.Errorf("turn carries %d images", msg.ImageCount())
			}
			if msg.Content != tc.msg.Content {
				t.Errorf("Content changed to %q", msg.Content)
			}
			if _, left := buf.Peek(); left != tc.wantLeft {
				t.Errorf("frame left in buffer = %v, want %v", left, tc.wantLeft)
			}
			if tc.wantAdded {
				last := msg.Parts[len(msg.Parts)-1]
				if last.Type != types.PartImage || last.Image == nil {
					t.Fatalf("last part = %+v, want image", last)
				}
				want := testFrame()
				if last.Image.MIMEType != want.MIMEType || last.Image.Width != 640 || !last.Image.CapturedAt.Equal(want.CapturedAt) {
					t.Errorf("image = %+v", last.Image)
				}
			}
		})
	}
}

func TestAugment_ConsumesFrameOnce(t *testing.T) {
	t.Parallel()

	buf := visual.NewBuffer()
	buf.Set(testFrame())
	a := NewAugmenter(buf)

	first := types.Message{Role: "user", Content: "one"}
	second := types.Message{Role: "user", Content: "two"}
	if !a.Augment(&first) {
		t.Fatal("first turn not augmented")
	}
	if a.Augment(&second) {
		t.Error("second turn reused the consumed frame")
	}
	if len(second.Parts) != 0 {
		t.Errorf("second turn parts = %d", len(second.Parts))
	}
}

func TestAugment_LatestFrameWins(t *testing.T) {
	t.Parallel()

	buf := visual.NewBuffer()
	old := testFrame()
	old.Width = 1
	buf.Set(old)
	buf.Set(testFrame())

	msg := types.Message{Role: "user"}
	NewAugmenter(buf).Augment(&msg)
	if msg.Parts[0].Image.Width != 640 {
		t.Errorf("attached width = %d, want the newest frame", msg.Parts[0].Image.Width)
	}
}

func TestAugment_NilMessage(t *testing.T) {
	t.Parallel()

	buf := visual.NewBuffer()
	buf.Set(testFrame())
	if NewAugmenter(buf).Augment(nil) {
		t.Error("Augment(nil) reported success")
	}
	if _, ok := buf.Peek(); !ok {
		t.Error("Augment(nil) consumed the frame")
	}
}
