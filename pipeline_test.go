package ninegag2telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram/fetch"
	"github.com/Fortunato28/ninegag2telegram/rewrite"
	"github.com/Fortunato28/ninegag2telegram/transcode"
)

var webmMagic = []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x1F, 0x42, 0x86, 0x81, 0x01,
	0x42, 0xF7, 0x81, 0x01, 0x42, 0xF2, 0x81, 0x04, 0x42, 0xF3, 0x81, 0x08, 0x42, 0x82, 0x84, 0x77, 0x65, 0x62, 0x6D}

func copyFile(ctx context.Context, inputPath string, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}

type testEnv struct {
	server  *httptest.Server
	scratch string
	cfg     Config
	fetcher *fetch.Fetcher
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	return &testEnv{
		server:  server,
		scratch: cfg.ScratchDir,
		cfg:     cfg,
		fetcher: fetch.New(fetch.Config{Timeout: 5 * time.Second}, fetch.WithClient(server.Client()), fetch.WithLogger(zap.NewNop().Sugar())),
	}
}

func (e *testEnv) pipeline(encoder transcode.Encoder) *Pipeline {
	transcoder := transcode.New(encoder, transcode.DefaultConfig(), transcode.WithLogger(zap.NewNop().Sugar()))
	return NewPipeline(e.cfg, e.fetcher, transcoder, WithPipelineLogger(zap.NewNop().Sugar()))
}

func (e *testEnv) entries(t *testing.T) []os.DirEntry {
	entries, err := os.ReadDir(e.scratch)
	require.NoError(t, err)
	return entries
}

func serveBytes(path string, body []byte) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	})
	return mux
}

func TestAcquire_TranscodesWebm(t *testing.T) {
	assert := assert_.New(t)
	env := newTestEnv(t, serveBytes("/photo/clip.webm", webmMagic))
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	var transitions []Stage
	var mu sync.Mutex
	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clipvp9.webm", WithObserver(func(old State, new State) {
		mu.Lock()
		defer mu.Unlock()
		if old.Stage != new.Stage {
			transitions = append(transitions, new.Stage)
		}
	}))
	require.NoError(t, err)

	assert.Equal(StageReady, v.Stage())
	assert.Equal("clip.mp4", v.Filename())
	assert.Equal(filepath.Join(env.scratch, v.ID().String(), "clip.mp4"), v.Path())
	assert.Equal(env.server.URL+"/photo/clip.webm", v.State().CanonicalURL)
	assert.Equal(len(webmMagic), v.State().Bytes)
	data, err := os.ReadFile(v.Path())
	require.NoError(t, err)
	assert.Equal(webmMagic, data)
	assert.NoFileExists(filepath.Join(env.scratch, v.ID().String(), "clip.webm"))

	path := v.Path()
	v.Release()
	assert.NoFileExists(path)
	assert.Empty(env.entries(t))
	assert.Equal(StageReleased, v.Stage())
	assert.Equal("", v.Path())

	assert.Equal([]Stage{StageRewriting, StageFetching, StagePersisting, StageTranscoding, StageReady, StageReleased}, transitions)
}

func TestAcquire_MP4SkipsEncoder(t *testing.T) {
	assert := assert_.New(t)
	env := newTestEnv(t, serveBytes("/photo/clip.mp4", []byte("mp4 bytes")))
	called := false
	p := env.pipeline(transcode.EncoderFunc(func(ctx context.Context, in string, out string) error {
		called = true
		return nil
	}))

	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clipav1.mp4")
	require.NoError(t, err)
	defer v.Release()
	assert.False(called)
	assert.Equal("clip.mp4", v.Filename())
	assert.FileExists(v.Path())
}

func TestAcquire_RequestID(t *testing.T) {
	env := newTestEnv(t, serveBytes("/photo/clip.mp4", []byte("mp4 bytes")))
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clip.mp4", WithRequestID("fixed"))
	require.NoError(t, err)
	defer v.Release()
	assert_.Equal(t, RequestID("fixed"), v.ID())
	assert_.Equal(t, filepath.Join(p.ScratchPath("fixed"), "clip.mp4"), v.Path())
}

func TestAcquire_RewriteFailure(t *testing.T) {
	assert := assert_.New(t)
	env := newTestEnv(t, http.NotFoundHandler())
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	v, err := p.Acquire(context.Background(), "hello there")
	require.Error(t, err)
	defer v.Release()
	assert.ErrorIs(err, rewrite.ErrInvalidURL)
	stage, ok := FailedStage(err)
	assert.True(ok)
	assert.Equal(StageRewriting, stage)
	assert.Equal(StageFailed, v.Stage())
	assert.Equal(StageRewriting, v.State().FailedStage)
	assert.ErrorIs(v.Err(), rewrite.ErrInvalidURL)
	assert.Equal("", v.Path())
	assert.Empty(env.entries(t))
}

func TestAcquire_UnsupportedFormat(t *testing.T) {
	env := newTestEnv(t, http.NotFoundHandler())
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/image.jpg")
	defer v.Release()
	assert_.ErrorIs(t, err, rewrite.ErrUnsupportedFormat)
}

func TestAcquire_FetchFailure(t *testing.T) {
	assert := assert_.New(t)
	env := newTestEnv(t, http.NotFoundHandler())
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/missing.webm")
	require.Error(t, err)
	defer v.Release()
	assert.ErrorIs(err, fetch.ErrNetwork)
	stage, _ := FailedStage(err)
	assert.Equal(StageFetching, stage)
	assert.Empty(env.entries(t))
}

func TestAcquire_CancelledContext(t *testing.T) {
	env := newTestEnv(t, serveBytes("/photo/clip.webm", webmMagic))
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := p.Acquire(ctx, env.server.URL+"/photo/clip.webm")
	defer v.Release()
	assert_.ErrorIs(t, err, fetch.ErrNetwork)
}

func TestAcquire_PersistFailure(t *testing.T) {
	assert := assert_.New(t)
	env := newTestEnv(t, serveBytes("/photo/clip.mp4", []byte("mp4 bytes")))
	// A file where the scratch base should be makes every scratch dir fail
	blocker := filepath.Join(env.scratch, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	env.cfg.ScratchDir = blocker
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clip.mp4")
	require.Error(t, err)
	defer v.Release()
	assert.ErrorIs(err, ErrPersist)
	stage, _ := FailedStage(err)
	assert.Equal(StagePersisting, stage)
}

func TestAcquire_TranscodeFailureKeepsSourceUntilRelease(t *testing.T) {
	assert := assert_.New(t)
	env := newTestEnv(t, serveBytes("/photo/clip.webm", webmMagic))
	p := env.pipeline(transcode.EncoderFunc(func(ctx context.Context, in string, out string) error {
		return errors.New("unsupported codec")
	}))

	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clip.webm")
	require.Error(t, err)
	assert.ErrorIs(err, transcode.ErrTranscode)
	stage, _ := FailedStage(err)
	assert.Equal(StageTranscoding, stage)
	assert.Equal("clip.webm", v.Filename())
	assert.FileExists(v.Path())

	v.Release()
	assert.Empty(env.entries(t))
}

func TestAcquire_FilenameFromResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/photo/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/", http.StatusFound)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	})
	env := newTestEnv(t, mux)
	env.cfg.NameFrom = FilenameFromResponse
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clip.mp4")
	require.NoError(t, err)
	defer v.Release()
	// tmp.bin gets converted like any other non-MP4 file
	assert_.Equal(t, "tmp.mp4", v.Filename())
}

func TestVideo_ReleaseTwice(t *testing.T) {
	assert := assert_.New(t)
	env := newTestEnv(t, serveBytes("/photo/clip.mp4", []byte("mp4 bytes")))
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	released := 0
	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clip.mp4", WithObserver(func(old State, new State) {
		if new.Stage == StageReleased && old.Stage != StageReleased {
			released++
		}
	}))
	require.NoError(t, err)
	v.Release()
	v.Release()
	assert.Equal(1, released)
	assert.Empty(env.entries(t))
}

func TestVideo_ReleaseAfterExternalRemoval(t *testing.T) {
	env := newTestEnv(t, serveBytes("/photo/clip.mp4", []byte("mp4 bytes")))
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clip.mp4")
	require.NoError(t, err)
	require.NoError(t, os.Remove(v.Path()))
	v.Release()
	assert_.Empty(t, env.entries(t))
}

func TestPipeline_With(t *testing.T) {
	assert := assert_.New(t)
	env := newTestEnv(t, serveBytes("/photo/clip.webm", webmMagic))
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	var seen string
	err := p.With(context.Background(), env.server.URL+"/photo/clip.webm", func(v *Video) error {
		seen = v.Path()
		assert.FileExists(seen)
		return nil
	})
	assert.NoError(err)
	assert.NoFileExists(seen)
	assert.Empty(env.entries(t))

	sentinel := errors.New("upload failed")
	err = p.With(context.Background(), env.server.URL+"/photo/clip.webm", func(v *Video) error {
		return sentinel
	})
	assert.ErrorIs(err, sentinel)
	assert.Empty(env.entries(t))

	called := false
	err = p.With(context.Background(), "not a url", func(v *Video) error {
		called = true
		return nil
	})
	assert.Error(err)
	assert.False(called)
}

func TestPipeline_Concurrent(t *testing.T) {
	env := newTestEnv(t, serveBytes("/photo/clip.webm", webmMagic))
	p := env.pipeline(transcode.EncoderFunc(copyFile))

	var wg sync.WaitGroup
	videos := make([]*Video, 8)
	for i := range videos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := p.Acquire(context.Background(), env.server.URL+"/photo/clip.webm")
			assert_.NoError(t, err)
			videos[i] = v
		}(i)
	}
	wg.Wait()

	paths := make(map[string]bool)
	for _, v := range videos {
		paths[v.Path()] = true
	}
	assert_.Len(t, paths, len(videos))
	for _, v := range videos {
		v.Release()
	}
	assert_.Empty(t, env.entries(t))
}
