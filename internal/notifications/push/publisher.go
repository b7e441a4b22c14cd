package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"classifieds/internal/types"
)

// sqsBatchMax is the SendMessageBatch entry ceiling.
const sqsBatchMax = 10

// SQSSender abstracts the SQS send operations for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Publisher enqueues PushMessages on the push queue consumed by the push
// worker.
type Publisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewPublisher creates a Publisher targeting queueURL.
func NewPublisher(client SQSSender, queueURL string, logger types.Logger) *Publisher {
	return &Publisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish enqueues a single message, assigning a MessageID when missing.
func (p *Publisher) Publish(ctx context.Context, msg types.PushMessage) error {
	msg = withID(ctx, msg)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("push publisher: failed to marshal message: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("push publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("push message published",
		"message_id", msg.MessageID,
		"event", string(msg.Event),
		"listing_id", msg.ListingID,
	)
	return nil
}

// PublishBatch enqueues msgs in SendMessageBatch chunks. Every chunk is
// attempted; the returned count is the number of messages SQS accepted and
// err describes the first failure.
func (p *Publisher) PublishBatch(ctx context.Context, msgs []types.PushMessage) (int, error) {
	var (
		sent     int
		firstErr error
	)
	for start := 0; start < len(msgs); start += sqsBatchMax {
		end := min(start+sqsBatchMax, len(msgs))
		n, err := p.sendChunk(ctx, msgs[start:end])
		sent += n
		if err != nil {
			p.logger.Error("push batch chunk failed", "error", err.Error(), "chunk_size", end-start)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return sent, firstErr
}

func (p *Publisher) sendChunk(ctx context.Context, chunk []types.PushMessage) (int, error) {
	entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(chunk))
	for i, msg := range chunk {
		msg = withID(ctx, msg)
		body, err := json.Marshal(msg)
		if err != nil {
			return 0, fmt.Errorf("push publisher: failed to marshal message: %w", err)
		}
		entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(string(body)),
		})
	}

	out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(p.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return 0, fmt.Errorf("push publisher: batch send to %s: %w", p.queueURL, err)
	}
	if len(out.Failed) > 0 {
		f := out.Failed[0]
		return len(chunk) - len(out.Failed), fmt.Errorf("push publisher: %d of %d entries rejected (first: %s %s)",
			len(out.Failed), len(chunk), aws.ToString(f.Code), aws.ToString(f.Message))
	}
	return len(chunk), nil
}

func withID(ctx context.Context, msg types.PushMessage) types.PushMessage {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.TraceID == "" {
		msg.TraceID = types.GetRequestID(ctx)
	}
	return msg
}
