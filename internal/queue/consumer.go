// Package queue is the durable order queue on Kafka: at-least-once delivery,
// a per-message handling deadline, delayed redelivery and a dead-letter topic.
package queue

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/config"
	"github.com/kchenfs/PrepDeck/internal/pkg/retry"
)

// ErrPoison marks a message that can never succeed. It is dead-lettered
// without further attempts.
var ErrPoison = errors.New("poison message")

type MessageHandler interface {
	Handle(ctx context.Context, msg kafkago.Message) error
}

type Reader interface {
	Config() kafkago.ReaderConfig
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Options struct {
	MaxAttempts       int
	VisibilityTimeout time.Duration
	RetryBase         time.Duration
	RetryMax          time.Duration
	DeadLetterTopic   string
}

func OptionsFrom(k config.Kafka, q config.Queue) Options {
	return Options{
		MaxAttempts:       q.MaxAttempts,
		VisibilityTimeout: q.VisibilityTimeout,
		RetryBase:         q.RetryBase,
		RetryMax:          q.RetryMax,
		DeadLetterTopic:   k.DeadLetterTopic(),
	}
}

// NewReader builds one consumer-group member. Commits are synchronous.
func NewReader(cfg config.Kafka) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.Group,
		Topic:       cfg.Topic,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

// Consumer processes one message at a time from its own reader.
type Consumer struct {
	id      int
	handler MessageHandler
	reader  Reader
	writer  Writer
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewConsumer(id int, handler MessageHandler, reader Reader, writer Writer, opts Options, logger *zap.Logger) *Consumer {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 60 * time.Second
	}
	return &Consumer{
		id:      id,
		handler: handler,
		reader:  reader,
		writer:  writer,
		opts:    opts,
		logger:  logger.With(zap.Int("worker", id)),
		now:     time.Now,
	}
}

// Run fetches until ctx ends. An offset is committed only after the message
// was handled, redelivered or dead-lettered.
func (c *Consumer) Run(ctx context.Context) {
	rc := c.reader.Config()
	c.logger.Info("starting kafka consumer",
		zap.Strings("brokers", rc.Brokers),
		zap.String("group", rc.GroupID),
		zap.String("topic", rc.Topic),
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return
			}
			if isBenignFetchTimeout(err) {
				c.logger.Debug("fetch timeout (idle), backing off", zap.Error(err))
				sleepWithContext(ctx, 10*time.Second)
				continue
			}
			c.logger.Warn("FetchMessage error, backing off", zap.Error(err))
			sleepWithContext(ctx, 500*time.Millisecond)
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			// shutting down mid-message: leave it uncommitted for the next owner
			return
		}

		for {
			err := c.reader.CommitMessages(ctx, msg)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("commit failed",
				zap.Error(err),
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			sleepWithContext(ctx, 200*time.Millisecond)
		}
		c.logger.Debug("message committed",
			zap.String("topic", msg.Topic), zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))
	}
}

// process settles msg. A nil return means the offset may be committed; an
// error means ctx ended before the message was settled.
func (c *Consumer) process(ctx context.Context, msg kafkago.Message) error {
	if nb := NotBefore(msg); !nb.IsZero() {
		if wait := nb.Sub(c.now()); wait > 0 {
			c.logger.Debug("redelivery not due yet", zap.Duration("wait", wait), zap.Int64("offset", msg.Offset))
			sleepWithContext(ctx, wait)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	attempt := Attempt(msg)
	start := c.now()

	hctx, cancel := context.WithTimeout(ctx, c.opts.VisibilityTimeout)
	err := c.handler.Handle(hctx, msg)
	cancel()

	elapsed := c.now().Sub(start)
	if err == nil {
		c.logger.Debug("message handled",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("elapsed", elapsed),
		)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	fields := []zap.Field{
		zap.Error(err),
		zap.String("key", string(msg.Key)),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Int("attempt", attempt),
		zap.Duration("elapsed", elapsed),
	}

	if errors.Is(err, ErrPoison) || attempt >= c.opts.MaxAttempts {
		c.logger.Error("message dead-lettered", fields...)
		return c.write(ctx, c.deadLetter(msg, err, attempt))
	}

	next := c.redelivery(msg, attempt)
	notBefore, _ := header(next, HeaderNotBefore)
	c.logger.Warn("message handling failed, redelivery scheduled",
		append(fields, zap.String("not_before", notBefore))...)
	return c.write(ctx, next)
}

func (c *Consumer) redelivery(msg kafkago.Message, attempt int) kafkago.Message {
	delay := retry.Backoff(attempt, c.opts.RetryBase, c.opts.RetryMax)
	hs := withHeader(msg.Headers, HeaderAttempt, strconv.Itoa(attempt+1))
	hs = withHeader(hs, HeaderNotBefore, c.now().Add(delay).UTC().Format(time.RFC3339Nano))
	return kafkago.Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Headers: hs}
}

func (c *Consumer) deadLetter(msg kafkago.Message, cause error, attempt int) kafkago.Message {
	hs := withHeader(msg.Headers, HeaderError, cause.Error())
	hs = withHeader(hs, HeaderAttempt, strconv.Itoa(attempt))
	hs = withHeader(hs, HeaderOrigin, msg.Topic+"/"+strconv.Itoa(msg.Partition)+"/"+strconv.FormatInt(msg.Offset, 10))
	return kafkago.Message{Topic: c.opts.DeadLetterTopic, Key: msg.Key, Value: msg.Value, Headers: hs}
}

// write retries until the message is stored or ctx ends; the source offset is
// not committed before that.
func (c *Consumer) write(ctx context.Context, msg kafkago.Message) error {
	for attempt := 1; ; attempt++ {
		err := c.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("requeue write failed, retrying",
			zap.String("topic", msg.Topic),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		sleepWithContext(ctx, retry.Backoff(attempt, 200*time.Millisecond, 10*time.Second))
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func isBenignFetchTimeout(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Request Timed Out") ||
		strings.Contains(s, "no messages received from kafka within the allocated time")
}
