package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/generic"
	"github.com/Fortunato28/ninegag2telegram/internal/bot"
)

func fetchCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "fetch videos for messages into a directory",
		ArgsUsage: "MESSAGE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Value: ".",
				Usage: "save videos to `DIR`",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			if c.NArg() == 0 {
				return cli.Exit("at least one message is required", 2)
			}
			pipeline, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			handler := newHandler(cfg, pipeline)
			target := c.String("target")
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}

			var failed int
			for _, message := range c.Args().Slice() {
				if err := fetchOne(ctx, handler, message, target); err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d messages failed", failed, c.NArg())
			}
			return nil
		},
	}
}

func fetchOne(ctx context.Context, handler *bot.Handler, message string, target string) error {
	logger := ninegag2telegram.Logger(ctx).Sugar()
	logger.Infof("Fetching %s into %s", message, target)

	bar := progressbar.DefaultBytes(-1, "downloading")
	defer bar.Close()
	progress := func(downloaded int64, expected int64) {
		if expected > 0 && bar.GetMax64() != expected {
			bar.ChangeMax64(expected)
		}
		generic.Unwrap_(bar.Set64(downloaded))
	}

	m := &fileMessenger{target: target}
	err := handler.Handle(ctx, bot.Message{Text: message}, m, ninegag2telegram.WithProgress(progress))
	switch {
	case m.saved != "":
		logger.Infof("Saved %s", m.saved)
		return nil
	case m.refusal != "":
		logger.Error(m.refusal)
		return errors.New(m.refusal)
	default:
		return err
	}
}

// fileMessenger "replies" by copying the video into a directory.
type fileMessenger struct {
	target  string
	saved   string
	refusal string
}

func (m *fileMessenger) ReplyText(ctx context.Context, text string) error {
	m.refusal = text
	return nil
}

func (m *fileMessenger) ReplyVideo(ctx context.Context, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	dst := filepath.Join(m.target, filepath.Base(path))
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	m.saved = dst
	return nil
}
