package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/pixel-tracker/internal/pkg/logger"
	trackingsvc "github.com/ignite/pixel-tracker/internal/service/tracking"
)

// Receiver is the subset of *sqs.Client the consumer uses.
type Receiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

var errBadMessage = errors.New("undecodable queued open")

// Consumer drains queued opens into the document store. A message is
// deleted once its open is appended, or when it cannot be decoded. Failed
// appends are left on the queue for redelivery.
type Consumer struct {
	client      Receiver
	queueURL    string
	sink        trackingsvc.EventSink
	waitSeconds int32
	maxMessages int32
	retryDelay  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewConsumer(client Receiver, queueURL string, sink trackingsvc.EventSink) *Consumer {
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		sink:        sink,
		waitSeconds: 20,
		maxMessages: 10,
		retryDelay:  5 * time.Second,
	}
}

// SetPolling overrides the long-poll wait and batch size. Zero keeps the
// current value.
func (c *Consumer) SetPolling(waitSeconds, maxMessages int) {
	if waitSeconds > 0 {
		c.waitSeconds = int32(waitSeconds)
	}
	if maxMessages > 0 {
		c.maxMessages = int32(maxMessages)
	}
}

func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	logger.Info("SQS tracking consumer started", "queue", c.queueURL)
	go c.poll(ctx, c.done)
}

// Stop cancels polling and waits for the loop to exit.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Consumer) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("SQS receive error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
		}
	}
	logger.Info("SQS tracking consumer stopped")
}

// PollOnce receives one batch and processes it. It returns how many opens
// were appended.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.maxMessages,
		WaitTimeSeconds:     c.waitSeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("receive messages: %w", err)
	}

	appended := 0
	for _, msg := range out.Messages {
		err := c.process(ctx, msg)
		switch {
		case err == nil:
			appended++
			c.deleteMessage(ctx, msg.ReceiptHandle)
		case errors.Is(err, errBadMessage):
			logger.Warn("SQS bad message", "message_id", aws.ToString(msg.MessageId), "error", err)
			c.deleteMessage(ctx, msg.ReceiptHandle)
		default:
			logger.Error("SQS append failed, leaving for redelivery", "message_id", aws.ToString(msg.MessageId), "error", err)
		}
	}
	return appended, nil
}

func (c *Consumer) process(ctx context.Context, msg types.Message) error {
	if msg.Body == nil {
		return errBadMessage
	}
	var q QueuedOpen
	if err := json.Unmarshal([]byte(*msg.Body), &q); err != nil {
		return fmt.Errorf("%w: %v", errBadMessage, err)
	}
	if q.Key == "" {
		return fmt.Errorf("%w: missing key", errBadMessage)
	}
	return c.sink.AppendOpen(ctx, q.Key, q.Event)
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("SQS delete failed", "error", err)
	}
}
