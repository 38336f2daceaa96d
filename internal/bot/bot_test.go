package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/fetch"
	"github.com/Fortunato28/ninegag2telegram/rewrite"
	"github.com/Fortunato28/ninegag2telegram/transcode"
)

type reply struct {
	text  string
	video []byte
	path  string
}

type fakeMessenger struct {
	mu       sync.Mutex
	replies  []reply
	videoErr error
	textErr  error
}

func (m *fakeMessenger) ReplyText(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.textErr != nil {
		return m.textErr
	}
	m.replies = append(m.replies, reply{text: text})
	return nil
}

func (m *fakeMessenger) ReplyVideo(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.videoErr != nil {
		return m.videoErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.replies = append(m.replies, reply{video: data, path: path})
	return nil
}

func newPipeline(t *testing.T, handler http.Handler) (*ninegag2telegram.Pipeline, string) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := ninegag2telegram.DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	fetcher := fetch.New(fetch.DefaultConfig(), fetch.WithClient(server.Client()), fetch.WithLogger(zap.NewNop().Sugar()))
	encoder := transcode.EncoderFunc(func(ctx context.Context, in string, out string) error {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		return os.WriteFile(out, data, 0644)
	})
	transcoder := transcode.New(encoder, transcode.DefaultConfig(), transcode.WithLogger(zap.NewNop().Sugar()))
	return ninegag2telegram.NewPipeline(cfg, fetcher, transcoder, ninegag2telegram.WithPipelineLogger(zap.NewNop().Sugar())), server.URL
}

func serveClip() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/photo/clip.webm", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("webm bytes"))
	})
	return mux
}

func newHandler(acquirer Acquirer, opts ...Option) *Handler {
	return NewHandler(acquirer, append([]Option{WithLogger(zap.NewNop().Sugar())}, opts...)...)
}

func TestHandle_SendsVideo(t *testing.T) {
	assert := assert_.New(t)
	p, base := newPipeline(t, serveClip())
	m := &fakeMessenger{}

	err := newHandler(p).Handle(context.Background(), Message{ChatID: 1, Text: "  " + base + "/photo/clipvp9.webm\n"}, m)
	require.NoError(t, err)
	require.Len(t, m.replies, 1)
	assert.Equal([]byte("webm bytes"), m.replies[0].video)
	assert.Equal("clip.mp4", filepath.Base(m.replies[0].path))
	assert.NoFileExists(m.replies[0].path, "video should be released after sending")
}

func TestHandle_NotText(t *testing.T) {
	m := &fakeMessenger{}
	err := newHandler(nil).Handle(context.Background(), Message{ChatID: 1}, m)
	assert_.NoError(t, err)
	assert_.Equal(t, []reply{{text: NotTextReply}}, m.replies)
}

func TestHandle_InvalidURL(t *testing.T) {
	assert := assert_.New(t)
	p, _ := newPipeline(t, serveClip())
	m := &fakeMessenger{}

	err := newHandler(p).Handle(context.Background(), Message{ChatID: 1, Text: "look at this"}, m)
	assert.ErrorIs(err, rewrite.ErrInvalidURL)
	require.Len(t, m.replies, 1)
	assert.Contains(m.replies[0].text, InvalidURLReply)
}

func TestHandle_FetchFailure(t *testing.T) {
	assert := assert_.New(t)
	p, base := newPipeline(t, http.NotFoundHandler())
	m := &fakeMessenger{}

	err := newHandler(p).Handle(context.Background(), Message{ChatID: 1, Text: base + "/photo/clip.webm"}, m)
	assert.ErrorIs(err, fetch.ErrNetwork)
	require.Len(t, m.replies, 1)
	assert.Contains(m.replies[0].text, "(fetching)")
}

func TestHandle_RetriesNetworkErrors(t *testing.T) {
	assert := assert_.New(t)
	var requests int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("mp4 bytes"))
	})
	p, base := newPipeline(t, handler)
	m := &fakeMessenger{}

	err := newHandler(p, WithRetry(3, time.Millisecond)).Handle(context.Background(), Message{Text: base + "/photo/clip.mp4"}, m)
	require.NoError(t, err)
	assert.Equal(int32(3), atomic.LoadInt32(&requests))
	require.Len(t, m.replies, 1)
	assert.Equal([]byte("mp4 bytes"), m.replies[0].video)
}

func TestHandle_DoesNotRetryOtherStages(t *testing.T) {
	var calls int32
	acquirer := acquirerFunc(func(ctx context.Context, message string, f func(v *ninegag2telegram.Video) error) error {
		atomic.AddInt32(&calls, 1)
		return &ninegag2telegram.StageError{Stage: ninegag2telegram.StageTranscoding, Err: transcode.ErrTranscode}
	})
	m := &fakeMessenger{}

	err := newHandler(acquirer, WithRetry(5, time.Millisecond)).Handle(context.Background(), Message{Text: "x"}, m)
	assert_.ErrorIs(t, err, transcode.ErrTranscode)
	assert_.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHandle_DeliveryFailure(t *testing.T) {
	assert := assert_.New(t)
	p, base := newPipeline(t, serveClip())
	sentinel := errors.New("upload rejected")
	m := &fakeMessenger{videoErr: sentinel}

	err := newHandler(p, WithRetry(3, time.Millisecond)).Handle(context.Background(), Message{Text: base + "/photo/clip.webm"}, m)
	assert.ErrorIs(err, sentinel)
	assert.Empty(m.replies, "no failure text for delivery errors")
}

func TestHandle_ReplyFailure(t *testing.T) {
	m := &fakeMessenger{textErr: errors.New("chat gone")}
	err := newHandler(nil).Handle(context.Background(), Message{}, m)
	assert_.Error(t, err)
}

type acquirerFunc func(ctx context.Context, message string, f func(v *ninegag2telegram.Video) error) error

func (a acquirerFunc) With(ctx context.Context, message string, f func(v *ninegag2telegram.Video) error, opts ...ninegag2telegram.AcquireOption) error {
	return a(ctx, message, f)
}

func TestRetryable(t *testing.T) {
	assert := assert_.New(t)
	assert.True(Retryable(&ninegag2telegram.StageError{Stage: ninegag2telegram.StageFetching, Err: fetch.ErrNetwork}))
	assert.False(Retryable(&ninegag2telegram.StageError{Stage: ninegag2telegram.StageRewriting, Err: rewrite.ErrInvalidURL}))
	assert.False(Retryable(fetch.ErrNetwork))
}

func TestReply(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(InvalidURLReply+"\ninvalid URL",
		Reply(&ninegag2telegram.StageError{Stage: ninegag2telegram.StageRewriting, Err: rewrite.ErrInvalidURL}))
	assert.Equal("I couldn't process this video (transcoding): transcode failed",
		Reply(&ninegag2telegram.StageError{Stage: ninegag2telegram.StageTranscoding, Err: transcode.ErrTranscode}))
	assert.Equal("I couldn't process this video: boom", Reply(errors.New("boom")))
}
