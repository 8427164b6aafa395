package disposition

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/propreach/internal/outreach"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type sqsAPI interface {
	SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue carries disposition events over SQS.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

func NewSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("disposition: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("disposition: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("disposition: failed to send SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("disposition: failed to receive SQS messages: %w", err)
	}
	messages := make([]queueMessage, 0, len(out.Messages))
	for _, msg := range out.Messages {
		messages = append(messages, queueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("disposition: failed to delete SQS message: %w", err)
	}
	return nil
}

// MemoryQueue is an in-process queue used as the SQS test double.
type MemoryQueue struct {
	mu   sync.Mutex
	seq  int
	msgs []queueMessage
}

func NewMemoryQueue() *MemoryQueue { return &MemoryQueue{} }

func (q *MemoryQueue) Send(_ context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := fmt.Sprintf("mem-%d", q.seq)
	q.msgs = append(q.msgs, queueMessage{ID: id, Body: body, ReceiptHandle: id})
	return nil
}

func (q *MemoryQueue) Receive(_ context.Context, maxMessages int, _ int) ([]queueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if maxMessages <= 0 || maxMessages > len(q.msgs) {
		maxMessages = len(q.msgs)
	}
	out := make([]queueMessage, maxMessages)
	copy(out, q.msgs[:maxMessages])
	return out, nil
}

func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.msgs {
		if m.ReceiptHandle == receiptHandle {
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len reports queued messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Publisher enqueues disposition events for asynchronous broadcast.
type Publisher struct {
	queue queueClient
}

func NewPublisher(queue queueClient) *Publisher {
	return &Publisher{queue: queue}
}

func (p *Publisher) Publish(ctx context.Context, evt outreach.DispositionEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("disposition: encode event: %w", err)
	}
	return p.queue.Send(ctx, string(body))
}

// InlinePublisher broadcasts synchronously in the caller's goroutine.
type InlinePublisher struct {
	broadcaster *Broadcaster
}

func NewInlinePublisher(b *Broadcaster) *InlinePublisher {
	return &InlinePublisher{broadcaster: b}
}

func (p *InlinePublisher) Publish(ctx context.Context, evt outreach.DispositionEvent) error {
	_, err := p.broadcaster.Handle(ctx, evt)
	return err
}
