package visual

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lookout/pkg/video"
)

func frame(id int) video.Frame {
	return video.Frame{Data: []byte{byte(id)}, MIMEType: "image/jpeg", Width: id, CapturedAt: time.Unix(int64(id), 0)}
}

func TestBuffer_EmptyByDefault(t *testing.T) {
	t.Parallel()

	var b Buffer
	if _, ok := b.Peek(); ok {
		t.Error("Peek on empty buffer reported a frame")
	}
	if _, ok := b.GetAndClear(); ok {
		t.Error("GetAndClear on empty buffer reported a frame")
	}
}

func TestBuffer_LastWriteWins(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	if replaced := b.Set(frame(1)); replaced {
		t.Error("first Set reported a replacement")
	}
	if replaced := b.Set(frame(2)); !replaced {
		t.Error("second Set did not report a replacement")
	}
	b.Set(frame(3))

	f, ok := b.GetAndClear()
	if !ok || f.Width != 3 {
		t.Fatalf("GetAndClear = (%d, %v), want (3, true)", f.Width, ok)
	}
	st := b.Stats()
	if st.Sets != 3 || st.Overwritten != 2 || st.Consumed != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestBuffer_GetAndClearIsConsumeOnce(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	b.Set(frame(1))
	if _, ok := b.GetAndClear(); !ok {
		t.Fatal("first GetAndClear returned empty")
	}
	if _, ok := b.GetAndClear(); ok {
		t.Error("second GetAndClear returned a frame")
	}
	if _, ok := b.Peek(); ok {
		t.Error("Peek after GetAndClear returned a frame")
	}
}

func TestBuffer_PeekDoesNotMutate(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	b.Set(frame(7))
	for i := 0; i < 3; i++ {
		f, ok := b.Peek()
		if !ok || f.Width != 7 {
			t.Fatalf("Peek #%d = (%d, %v)", i, f.Width, ok)
		}
	}
	f, ok := b.GetAndClear()
	if !ok || f.Width != 7 {
		t.Errorf("GetAndClear after Peek = (%d, %v)", f.Width, ok)
	}
	if st := b.Stats(); st.Consumed != 1 {
		t.Errorf("Consumed = %d, want 1", st.Consumed)
	}
}

func TestBuffer_ClearDropsFrame(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	b.Set(frame(1))
	b.Clear()
	if _, ok := b.Peek(); ok {
		t.Error("Peek after Clear returned a frame")
	}
	if st := b.Stats(); st.Consumed != 0 {
		t.Errorf("Consumed = %d, want 0", st.Consumed)
	}
}

// Under concurrent writers and destructive readers every frame is either
// consumed exactly once or overwritten; none is duplicated or torn.
func TestBuffer_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	const writers, perWriter = 4, 500
	b := NewBuffer()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		seen     = make(map[int]int)
		stopRead = make(chan struct{})
		readers  sync.WaitGroup
	)

	for r := 0; r < 2; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stopRead:
					return
				default:
				}
				if f, ok := b.Peek(); ok && len(f.Data) != 2 {
					t.Errorf("torn frame: %v", f.Data)
				}
				if f, ok := b.GetAndClear(); ok {
					mu.Lock()
					seen[f.Width]++
					mu.Unlock()
				}
			}
		}()
	}

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := w*perWriter + i + 1
				b.Set(video.Frame{Data: []byte{byte(w), byte(i)}, Width: id})
			}
		}()
	}
	wg.Wait()
	close(stopRead)
	readers.Wait()
	if f, ok := b.GetAndClear(); ok {
		seen[f.Width]++
	}

	for id, n := range seen {
		if n != 1 {
			t.Errorf("frame %d consumed %d times", id, n)
		}
	}
	st := b.Stats()
	if st.Sets != writers*perWriter {
		t.Errorf("Sets = %d, want %d", st.Sets, writers*perWriter)
	}
	if st.Consumed+st.Overwritten != st.Sets {
		t.Errorf("Consumed(%d) + Overwritten(%d) != Sets(%d)", st.Consumed, st.Overwritten, st.Sets)
	}
	if int(st.Consumed) != len(seen) {
		t.Errorf("Consumed = %d, distinct seen = %d", st.Consumed, len(seen))
	}
}
