package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue hands out queued batches, then blocks like a long poll until
// the context ends.
type fakeQueue struct {
	mu         sync.Mutex
	batches    [][]types.Message
	receiveErr error
	deleted    []string
	inputs     []*sqs.ReceiveMessageInput
}

func (f *fakeQueue) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	if f.receiveErr != nil {
		err := f.receiveErr
		f.mu.Unlock()
		return nil, err
	}
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeQueue) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type failingSink struct{ err error }

func (s failingSink) AppendOpen(context.Context, string, domain.OpenEvent) error { return s.err }

func queuedMessage(t *testing.T, handle, key string, ev domain.OpenEvent) types.Message {
	t.Helper()
	body, err := json.Marshal(QueuedOpen{Key: key, Event: ev})
	require.NoError(t, err)
	return types.Message{
		MessageId:     aws.String("id-" + handle),
		ReceiptHandle: aws.String(handle),
		Body:          aws.String(string(body)),
	}
}

var qt0 = time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC)

func TestConsumer_PollOnce_AppendsAndDeletes(t *testing.T) {
	repo := memory.NewRepo()
	queue := &fakeQueue{batches: [][]types.Message{{
		queuedMessage(t, "h1", "abc", domain.OpenEvent{ID: "1", Time: qt0, UserAgent: "Gmail", EmailClient: domain.ClientGmail}),
		queuedMessage(t, "h2", "abc", domain.OpenEvent{ID: "2", Time: qt0.Add(time.Minute), UserAgent: "Gmail", EmailClient: domain.ClientGmail}),
	}}}
	c := NewConsumer(queue, "q", repo)
	c.SetPolling(1, 5)

	n, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"h1", "h2"}, queue.deletedHandles())

	doc, err := repo.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, doc.Opens, 2)
	assert.Equal(t, "1", doc.Opens[0].ID)
	assert.Equal(t, "2", doc.Opens[1].ID)

	require.Len(t, queue.inputs, 1)
	assert.Equal(t, int32(1), queue.inputs[0].WaitTimeSeconds)
	assert.Equal(t, int32(5), queue.inputs[0].MaxNumberOfMessages)
}

func TestConsumer_PollOnce_DeletesUndecodable(t *testing.T) {
	repo := memory.NewRepo()
	queue := &fakeQueue{batches: [][]types.Message{{
		{ReceiptHandle: aws.String("bad-json"), Body: aws.String("{not json")},
		{ReceiptHandle: aws.String("no-body")},
		queuedMessage(t, "no-key", "", domain.OpenEvent{Time: qt0}),
	}}}
	c := NewConsumer(queue, "q", repo)

	n, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.ElementsMatch(t, []string{"bad-json", "no-body", "no-key"}, queue.deletedHandles())
}

func TestConsumer_PollOnce_KeepsFailedAppend(t *testing.T) {
	queue := &fakeQueue{batches: [][]types.Message{{
		queuedMessage(t, "h1", "abc", domain.OpenEvent{Time: qt0}),
	}}}
	c := NewConsumer(queue, "q", failingSink{err: errors.New("store down")})

	n, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, queue.deletedHandles())
}

func TestConsumer_PollOnce_ReceiveError(t *testing.T) {
	queue := &fakeQueue{receiveErr: errors.New("throttled")}
	c := NewConsumer(queue, "q", memory.NewRepo())

	_, err := c.PollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestConsumer_StartStop(t *testing.T) {
	repo := memory.NewRepo()
	queue := &fakeQueue{batches: [][]types.Message{
		{queuedMessage(t, "h1", "abc", domain.OpenEvent{Time: qt0})},
		{queuedMessage(t, "h2", "abc", domain.OpenEvent{Time: qt0.Add(time.Second)})},
	}}
	c := NewConsumer(queue, "q", repo)

	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(queue.deletedHandles()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()

	doc, err := repo.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Len(t, doc.Opens, 2)
}

func TestConsumer_StopsOnContextCancel(t *testing.T) {
	queue := &fakeQueue{}
	c := NewConsumer(queue, "q", memory.NewRepo())
	ctx, cancel := context.WithCancel(context.Background())

	c.Start(ctx)
	cancel()
	c.Stop()
}

func TestConsumer_RetriesAfterReceiveError(t *testing.T) {
	queue := &fakeQueue{receiveErr: errors.New("throttled")}
	c := NewConsumer(queue, "q", memory.NewRepo())
	c.retryDelay = 10 * time.Millisecond

	c.Start(context.Background())
	require.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.inputs) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	c.Stop()
}

func TestConsumer_StopWithoutStart(t *testing.T) {
	c := NewConsumer(&fakeQueue{}, "q", memory.NewRepo())
	c.Stop()
}
