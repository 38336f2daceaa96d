package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/async"
	"github.com/Fortunato28/ninegag2telegram/internal/config"
)

func main() {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = level
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := logConfig.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ninegag2telegram.WithLogger(ctx, logger)

	app := &cli.App{
		Name:     "ninegag2telegram",
		Usage:    "fetch the original encode of 9GAG videos",
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"NINEGAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "scratch-dir",
				Usage: "keep in-flight videos under `DIR`",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.Bool("verbose") || cfg.Debug {
				level.SetLevel(zap.DebugLevel)
			}
			c.App.Metadata["config"] = cfg
			return nil
		},
		Commands: []*cli.Command{
			fetchCommand(ctx),
			serveCommand(ctx),
			historyCommand(),
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
	case <-ctx.Done():
		stop()
		logger.Info("Exiting gracefully...")
		err = <-result
	}
	if err != nil {
		logger.Fatal(err.Error())
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("scratch-dir"); dir != "" {
		cfg.Storage.ScratchDir = dir
	}
	return cfg, nil
}

func appConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}
