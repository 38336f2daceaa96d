package main

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/r3labs/diff/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram/async"
	"github.com/Fortunato28/ninegag2telegram/internal/api"
	"github.com/Fortunato28/ninegag2telegram/internal/pubsub"
	"github.com/Fortunato28/ninegag2telegram/internal/session"
)

func serveCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "accept messages over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen on `ADDR` instead of the configured host and port",
			},
		},
		Action: func(c *cli.Context) error {
			return serve(ctx, c)
		},
	}
}

func serve(ctx context.Context, c *cli.Context) (result error) {
	cfg := appConfig(c)
	logger := zap.S().Named("serve")

	history, err := openHistory(&cfg.History)
	if err != nil {
		return err
	}
	defer func() {
		if err := history.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}()

	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	ses, err := session.New(ctx, session.Config{
		Pipeline: pipeline,
		Database: history,
	})
	if err != nil {
		return err
	}
	events, err := ses.Subscribe()
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logEvents(logger, events)
	}()

	server := api.New(newHandler(cfg, ses), api.WithSession(ses))
	addr := c.String("listen")
	if addr == "" {
		addr = cfg.Server.Address()
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Infof("Listening on %s", addr)
	serveErr := async.Run(httpServer.ListenAndServe)

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err = httpServer.Shutdown(shutdownCtx)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := ses.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	wg.Wait()
	return result
}

func logEvents(logger *zap.SugaredLogger, events pubsub.ReceiverCloser[session.Event]) {
	for event := range events.Receive() {
		switch e := event.(type) {
		case session.RequestStarted:
			logger.Debugf("request started: %v", e.Request())
		case session.RequestUpdated:
			changes, err := diff.Diff(e.OldState, e.NewState)
			if err != nil {
				logger.Errorf("failed to diff old and new request state: %v", err)
				continue
			}
			for _, change := range changes {
				logger.Debugw("request changed", "request_id", e.Request().ID(), "field", change.Path, "from", change.From, "to", change.To)
			}
		case session.RequestFinished:
			if e.Err != nil {
				logger.Infow("request failed", "request_id", e.Record.ID, "stage", e.Record.FailedStage, "error", e.Err)
			} else {
				logger.Infow("request done", "request_id", e.Record.ID, "filename", e.Record.Filename, "duration", e.Record.Duration())
			}
		}
	}
}
