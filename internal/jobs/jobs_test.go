package jobs

import (
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	to, subject, body string
	calls             int
	err               error
}

func (s *stubSender) Send(ctx context.Context, to, subject, body string) error {
	s.calls++
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

func TestBuild_UnknownType(t *testing.T) {
	builders := Registry(&stubSender{}, t.TempDir())
	_, err := Build(builders, "transcode", nil)
	assert.ErrorContains(t, err, "unknown task type")
}

func TestSleepBuilder(t *testing.T) {
	b := SleepBuilder()

	t.Run("invalid payload", func(t *testing.T) {
		_, err := b(json.RawMessage(`{`))
		assert.Error(t, err)
	})

	t.Run("zero duration rejected", func(t *testing.T) {
		_, err := b(json.RawMessage(`{}`))
		assert.ErrorContains(t, err, "positive")
	})

	t.Run("runs to completion", func(t *testing.T) {
		work, err := b(json.RawMessage(`{"duration":"5ms"}`))
		require.NoError(t, err)
		assert.NoError(t, work(context.Background()))
	})

	t.Run("seconds field", func(t *testing.T) {
		work, err := b(json.RawMessage(`{"seconds":0.005}`))
		require.NoError(t, err)
		assert.NoError(t, work(context.Background()))
	})

	t.Run("cancellation ends the wait", func(t *testing.T) {
		work, err := b(json.RawMessage(`{"duration":"10s"}`))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- work(ctx) }()
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("sleep did not respect cancellation")
		}
	})
}

func TestFetchBuilder(t *testing.T) {
	t.Run("url required", func(t *testing.T) {
		_, err := FetchBuilder(t.TempDir())(json.RawMessage(`{}`))
		assert.ErrorContains(t, err, "url is required")
	})

	t.Run("filename cannot escape the download dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "downloads")
		require.NoError(t, os.Mkdir(dir, 0o755))

		for _, name := range []string{"../escaped.txt", "a/b.txt", `..\\escaped.txt`, "..", "."} {
			_, err := FetchBuilder(dir)(json.RawMessage(
				`{"url":"http://example.com/file.txt","filename":"` + name + `"}`))
			assert.Error(t, err, "filename %q must be rejected", name)
		}

		_, err := os.Stat(filepath.Join(dir, "..", "escaped.txt"))
		assert.True(t, os.IsNotExist(err), "traversal payload must not produce a file")
	})

	t.Run("downloads to file", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("hello world"))
		}))
		defer srv.Close()

		dir := t.TempDir()
		work, err := FetchBuilder(dir)(json.RawMessage(`{"url":"` + srv.URL + `/report.txt"}`))
		require.NoError(t, err)
		require.NoError(t, work(context.Background()))

		got, err := os.ReadFile(filepath.Join(dir, "report.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(got))
	})

	t.Run("http error status fails the task", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer srv.Close()

		dir := t.TempDir()
		work, err := FetchBuilder(dir)(json.RawMessage(`{"url":"` + srv.URL + `/missing.txt"}`))
		require.NoError(t, err)

		err = work(context.Background())
		assert.ErrorContains(t, err, "HTTP 404")

		_, statErr := os.Stat(filepath.Join(dir, "missing.txt"))
		assert.True(t, os.IsNotExist(statErr), "failed download must not leave a file")
	})
}

func TestEmailBuilder(t *testing.T) {
	t.Run("recipient required", func(t *testing.T) {
		_, err := EmailBuilder(&stubSender{})(json.RawMessage(`{"subject":"hi"}`))
		assert.ErrorContains(t, err, "to_email")
	})

	t.Run("delivers through sender", func(t *testing.T) {
		sender := &stubSender{}
		work, err := EmailBuilder(sender)(json.RawMessage(
			`{"to_email":"user@example.com","subject":"Test Subject","message":"hello"}`))
		require.NoError(t, err)
		require.NoError(t, work(context.Background()))

		assert.Equal(t, 1, sender.calls)
		assert.Equal(t, "user@example.com", sender.to)
		assert.Equal(t, "Test Subject", sender.subject)
		assert.Equal(t, "hello", sender.body)
	})
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestImageBuilder(t *testing.T) {
	t.Run("filename required", func(t *testing.T) {
		_, err := ImageBuilder(t.TempDir())(json.RawMessage(`{}`))
		assert.ErrorContains(t, err, "filename")
	})

	t.Run("filename cannot escape the work dir", func(t *testing.T) {
		_, err := ImageBuilder(t.TempDir())(json.RawMessage(`{"filename":"../pic.png"}`))
		assert.Error(t, err)
	})

	t.Run("shrinks to fit preserving aspect ratio", func(t *testing.T) {
		dir := t.TempDir()
		writeTestPNG(t, filepath.Join(dir, "pic.png"), 100, 50)

		work, err := ImageBuilder(dir)(json.RawMessage(`{"filename":"pic.png","width":40,"height":40}`))
		require.NoError(t, err)
		require.NoError(t, work(context.Background()))

		f, err := os.Open(filepath.Join(dir, "processed_pic.png"))
		require.NoError(t, err)
		defer f.Close()
		cfg, format, err := image.DecodeConfig(f)
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, 40, cfg.Width)
		assert.Equal(t, 20, cfg.Height)
	})

	t.Run("never upscales", func(t *testing.T) {
		dir := t.TempDir()
		writeTestPNG(t, filepath.Join(dir, "small.png"), 10, 10)

		work, err := ImageBuilder(dir)(json.RawMessage(`{"filename":"small.png"}`))
		require.NoError(t, err)
		require.NoError(t, work(context.Background()))

		f, err := os.Open(filepath.Join(dir, "processed_small.png"))
		require.NoError(t, err)
		defer f.Close()
		cfg, _, err := image.DecodeConfig(f)
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Width)
		assert.Equal(t, 10, cfg.Height)
	})

	t.Run("missing source fails the task", func(t *testing.T) {
		work, err := ImageBuilder(t.TempDir())(json.RawMessage(`{"filename":"absent.png"}`))
		require.NoError(t, err)
		assert.Error(t, work(context.Background()))
	})
}

func TestFitWithin(t *testing.T) {
	cases := []struct {
		w, h, maxW, maxH, wantW, wantH int
	}{
		{100, 50, 40, 40, 40, 20},
		{50, 100, 40, 40, 20, 40},
		{10, 10, 800, 600, 10, 10},
		{1600, 1200, 800, 600, 800, 600},
	}
	for _, c := range cases {
		gotW, gotH := fitWithin(c.w, c.h, c.maxW, c.maxH)
		assert.Equal(t, c.wantW, gotW, "width for %dx%d in %dx%d", c.w, c.h, c.maxW, c.maxH)
		assert.Equal(t, c.wantH, gotH, "height for %dx%d in %dx%d", c.w, c.h, c.maxW, c.maxH)
	}
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSMTPSender("localhost:2525", "noreply@taskhub.local")
	assert.Error(t, s.Send(ctx, "user@example.com", "subj", "body"))
}
