package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/seantiz/urumi/internal/awsclient"
	"github.com/seantiz/urumi/internal/model"
)

// longPollSeconds is the SQS maximum receive wait.
const longPollSeconds = 20

// Compile-time interface satisfaction check.
var _ Queue = (*SQSQueue)(nil)

// SQSQueue is a work queue on an Amazon SQS standard queue. Redelivery after
// a consumer crash comes from the SQS visibility timeout.
type SQSQueue struct {
	client     awsclient.SQSAPI
	url        string
	visibility time.Duration
}

// NewSQSQueue returns a queue bound to url.
func NewSQSQueue(client awsclient.SQSAPI, url string, visibility time.Duration) *SQSQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &SQSQueue{client: client, url: url, visibility: visibility}
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (q *SQSQueue) Close() error { return nil }

// Enqueue sends job as a JSON message body.
func (q *SQSQueue) Enqueue(ctx context.Context, job model.Job) error {
	if job.ID == "" {
		job.ID = model.NewID()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"job_id":   {DataType: aws.String("String"), StringValue: aws.String(job.ID)},
			"store_id": {DataType: aws.String("String"), StringValue: aws.String(job.StoreID)},
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Dequeue long-polls until a message arrives or ctx is done.
func (q *SQSQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.url),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     longPollSeconds,
			VisibilityTimeout:   int32(q.visibility / time.Second),
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, fmt.Errorf("receive message: %w", describe(err))
		}
		if len(out.Messages) == 0 {
			continue
		}

		msg := out.Messages[0]
		var job model.Job
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			if derr := q.delete(ctx, aws.ToString(msg.ReceiptHandle)); derr != nil {
				return nil, fmt.Errorf("discard message %s: %w", aws.ToString(msg.MessageId), derr)
			}
			return nil, fmt.Errorf("%w: message %s: %v", ErrMalformed, aws.ToString(msg.MessageId), err)
		}

		attempt, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		if attempt < 1 {
			attempt = 1
		}
		return &Delivery{
			Job:     job,
			Receipt: aws.ToString(msg.ReceiptHandle),
			Attempt: attempt,
		}, nil
	}
}

// Ack deletes the message.
func (q *SQSQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.delete(ctx, d.Receipt); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

func (q *SQSQueue) delete(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receipt),
	})
	return describe(err)
}

// Nack resets the message's visibility so it is redelivered immediately.
func (q *SQSQueue) Nack(ctx context.Context, d *Delivery) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(d.Receipt),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("nack message: %w", describe(err))
	}
	return nil
}

// describe prefixes SQS API errors with their error code.
func describe(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}
