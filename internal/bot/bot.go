// Package bot is the chat side of the service: it turns one inbound message into either a video reply or a
// human-readable refusal.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/fetch"
)

const (
	NotTextReply    = "Your message is not plain text, I can't handle it."
	InvalidURLReply = "Probably your message is not a valid url, I can't handle it."
)

// Message is an inbound chat message. Text is empty for stickers, photos and other non-text content.
type Message struct {
	ChatID int64
	Text   string
}

func (m Message) IsText() bool {
	return strings.TrimSpace(m.Text) != ""
}

// Messenger sends replies to the chat a Message came from.
type Messenger interface {
	ReplyText(ctx context.Context, text string) error
	// ReplyVideo uploads the file at path. The file only exists until ReplyVideo returns.
	ReplyVideo(ctx context.Context, path string) error
}

// Acquirer is satisfied by *ninegag2telegram.Pipeline and *session.Session.
type Acquirer interface {
	With(ctx context.Context, message string, f func(v *ninegag2telegram.Video) error, opts ...ninegag2telegram.AcquireOption) error
}

// deliveryError marks a failure to hand a ready video to the Messenger.
type deliveryError struct {
	err error
}

func (e *deliveryError) Error() string {
	return "deliver video: " + e.err.Error()
}

func (e *deliveryError) Unwrap() error {
	return e.err
}

type Handler struct {
	acquirer   Acquirer
	attempts   uint
	retryDelay time.Duration
	log        *zap.SugaredLogger
}

type Option func(*Handler)

// WithRetry makes network failures while fetching be tried up to attempts times in total.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(h *Handler) {
		h.attempts = attempts
		h.retryDelay = delay
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(h *Handler) {
		h.log = logger
	}
}

func NewHandler(acquirer Acquirer, opts ...Option) *Handler {
	h := &Handler{
		acquirer: acquirer,
		attempts: 1,
		log:      zap.S().Named("bot"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.attempts == 0 {
		h.attempts = 1
	}
	return h
}

// Handle answers msg through m. The user is always told something unless the reply itself fails; the returned error
// is for the caller's logs.
func (h *Handler) Handle(ctx context.Context, msg Message, m Messenger, opts ...ninegag2telegram.AcquireOption) error {
	log := h.log.With("chat_id", msg.ChatID)
	if !msg.IsText() {
		log.Debug("ignoring non-text message")
		return h.reply(ctx, m, NotTextReply)
	}

	deliver := func(v *ninegag2telegram.Video) error {
		if err := m.ReplyVideo(ctx, v.Path()); err != nil {
			return &deliveryError{err}
		}
		return nil
	}
	err := retry.Do(
		func() error {
			return h.acquirer.With(ctx, strings.TrimSpace(msg.Text), deliver, opts...)
		},
		retry.Context(ctx),
		retry.Attempts(h.attempts),
		retry.Delay(h.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			log.Infow("retrying fetch", "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return nil
	}

	var delivery *deliveryError
	if errors.As(err, &delivery) {
		log.Warnw("failed to deliver video", "error", delivery.err)
		return err
	}
	log.Infow("cannot handle message", "error", err)
	if replyErr := h.reply(ctx, m, Reply(err)); replyErr != nil {
		return multierror.Append(err, replyErr)
	}
	return err
}

func (h *Handler) reply(ctx context.Context, m Messenger, text string) error {
	if err := m.ReplyText(ctx, text); err != nil {
		h.log.Warnw("failed to reply", "error", err)
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

// Retryable reports whether err is a transient network failure worth another attempt.
func Retryable(err error) bool {
	stage, ok := ninegag2telegram.FailedStage(err)
	return ok && stage == ninegag2telegram.StageFetching && errors.Is(err, fetch.ErrNetwork)
}

// Reply is the text shown to the user for a failed request.
func Reply(err error) string {
	var stageErr *ninegag2telegram.StageError
	if !errors.As(err, &stageErr) {
		return fmt.Sprintf("I couldn't process this video: %v", err)
	}
	if stageErr.Stage == ninegag2telegram.StageRewriting {
		return fmt.Sprintf("%s\n%v", InvalidURLReply, stageErr.Err)
	}
	return fmt.Sprintf("I couldn't process this video (%s): %v", stageErr.Stage, stageErr.Err)
}
