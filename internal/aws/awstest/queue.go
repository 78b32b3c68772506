package awstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records every SendMessage call.
type SQS struct {
	mu   sync.Mutex
	Sent []*sqs.SendMessageInput
	// Err, when set, is returned by every SendMessage call.
	Err error
}

func (q *SQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.Sent = append(q.Sent, params)
	id := fmt.Sprintf("msg-%d", len(q.Sent))
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

// Bodies returns the bodies of all sent messages in order.
func (q *SQS) Bodies() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.Sent))
	for _, in := range q.Sent {
		out = append(out, *in.MessageBody)
	}
	return out
}

// CloudWatch records every PutMetricData call.
type CloudWatch struct {
	mu   sync.Mutex
	Puts []*cloudwatch.PutMetricDataInput
	Err  error
}

func (c *CloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.Puts = append(c.Puts, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// MetricNames returns the metric names recorded so far.
func (c *CloudWatch) MetricNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.Puts {
		for _, d := range p.MetricData {
			out = append(out, *d.MetricName)
		}
	}
	return out
}
