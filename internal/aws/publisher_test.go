package aws

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type recordingSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (r *recordingSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.inputs = append(r.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

type recordingCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (r *recordingCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.inputs = append(r.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublisher_SendJSON(t *testing.T) {
	q := &recordingSQS{}
	p := NewPublisher(q, "https://sqs.local/checkout")

	err := p.SendJSON(context.Background(), map[string]string{"type": "order.paid"}, map[string]string{
		"event_type": "order.paid",
		"empty":      "",
	})
	if err != nil {
		t.Fatalf("SendJSON error: %v", err)
	}
	if len(q.inputs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.inputs))
	}
	in := q.inputs[0]
	if *in.QueueUrl != "https://sqs.local/checkout" {
		t.Fatalf("queue url mismatch: %s", *in.QueueUrl)
	}
	if !strings.Contains(*in.MessageBody, `"order.paid"`) {
		t.Fatalf("unexpected body %s", *in.MessageBody)
	}
	if _, ok := in.MessageAttributes["empty"]; ok {
		t.Fatalf("empty attribute should be dropped")
	}
	if v := in.MessageAttributes["event_type"]; v.StringValue == nil || *v.StringValue != "order.paid" {
		t.Fatalf("event_type attribute missing: %+v", v)
	}
}

func TestPublisher_Errors(t *testing.T) {
	if err := NewPublisher(&recordingSQS{}, "").SendMessage(context.Background(), "{}", nil); err == nil {
		t.Fatal("expected error for missing queue url")
	}

	boom := errors.New("boom")
	err := NewPublisher(&recordingSQS{err: boom}, "q").SendMessage(context.Background(), "{}", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestMetrics_Count(t *testing.T) {
	cw := &recordingCloudWatch{}
	m := NewMetrics(cw, "Checkout")

	m.Count(context.Background(), "PaymentSucceeded", map[string]string{"currency": "INR"})

	if len(cw.inputs) != 1 {
		t.Fatalf("expected 1 put, got %d", len(cw.inputs))
	}
	in := cw.inputs[0]
	if *in.Namespace != "Checkout" {
		t.Fatalf("namespace mismatch: %s", *in.Namespace)
	}
	if *in.MetricData[0].MetricName != "PaymentSucceeded" || len(in.MetricData[0].Dimensions) != 1 {
		t.Fatalf("unexpected datum: %+v", in.MetricData[0])
	}

	// errors are swallowed
	NewMetrics(&recordingCloudWatch{err: errors.New("throttled")}, "Checkout").Count(context.Background(), "x", nil)
	var nilMetrics *Metrics
	nilMetrics.Count(context.Background(), "x", nil)
}
