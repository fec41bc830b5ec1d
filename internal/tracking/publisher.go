package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/pkg/logger"
)

const publishTimeout = 5 * time.Second

// QueuedOpen is the SQS message body for one open.
type QueuedOpen struct {
	Key   string           `json:"key"`
	Event domain.OpenEvent `json:"event"`
}

// Sender is the subset of *sqs.Client the publisher uses.
type Sender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher is an EventSink that hands opens to SQS instead of writing
// them. Sends run in the background so the pixel is never held up by the
// queue.
type Publisher struct {
	client   Sender
	queueURL string
	wg       sync.WaitGroup
}

func NewPublisher(client Sender, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// AppendOpen enqueues the open. It returns once the message is encoded;
// send failures are logged.
func (p *Publisher) AppendOpen(_ context.Context, key string, ev domain.OpenEvent) error {
	body, err := json.Marshal(QueuedOpen{Key: key, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal queued open: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publishing open to SQS", "key", key, "event_id", ev.ID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every in-flight send has finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}
