package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/database"
	"github.com/Fortunato28/ninegag2telegram/fetch"
	"github.com/Fortunato28/ninegag2telegram/internal/boltdb"
	"github.com/Fortunato28/ninegag2telegram/internal/bot"
	"github.com/Fortunato28/ninegag2telegram/internal/config"
	"github.com/Fortunato28/ninegag2telegram/internal/session"
	"github.com/Fortunato28/ninegag2telegram/transcode"
)

func newPipeline(cfg *config.Config) (*ninegag2telegram.Pipeline, error) {
	pipelineConfig, err := cfg.Pipeline()
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(cfg.Fetch.Config(), fetch.WithLogger(zap.S().Named("fetch")))
	ffmpeg := transcode.NewFFmpeg(cfg.Transcode.FFmpegPath)
	if err := ffmpeg.Check(); err != nil {
		zap.S().Warnw("ffmpeg not found, only MP4 videos can be handled", "error", err)
	}
	transcoder := transcode.New(ffmpeg, cfg.Transcode.Config(), transcode.WithLogger(zap.S().Named("transcode")))
	return ninegag2telegram.NewPipeline(pipelineConfig, fetcher, transcoder), nil
}

func newHandler(cfg *config.Config, acquirer bot.Acquirer) *bot.Handler {
	return bot.NewHandler(acquirer, bot.WithRetry(cfg.Fetch.Attempts, cfg.Fetch.RetryDelay))
}

type historyDatabase interface {
	session.Database
	Close() error
}

type nilHistory struct {
	session.NilDatabase
}

func (nilHistory) Close() error {
	return nil
}

func openHistory(cfg *config.HistoryConfig) (historyDatabase, error) {
	switch cfg.Backend {
	case "", config.HistoryNone:
		return nilHistory{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case config.HistoryBolt:
		return boltdb.New(cfg.Path)
	case config.HistorySQLite:
		return database.NewDatabase(cfg.Path, zap.L())
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
