package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	amqp "github.com/rabbitmq/amqp091-go"
)

const retryHeader = "x-retry-count"

var errBadJob = errors.New("rabbitmq: malformed refetch job")

// DecodeJob validates a delivery body.
func DecodeJob(body []byte) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return JobMessage{}, fmt.Errorf("%w: %v", errBadJob, err)
	}
	if m.JobID == "" {
		return JobMessage{}, fmt.Errorf("%w: missing job_id", errBadJob)
	}
	if _, err := datasync.ParseCollection(string(m.Collection)); err != nil {
		return JobMessage{}, fmt.Errorf("%w: %v", errBadJob, err)
	}
	return m, nil
}

// RetryCount reads how many times a delivery went through the retry queue.
func RetryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// Retry parks a failed delivery on the retry queue; it dead-letters back to
// the main queue after delay.
func Retry(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery, delay time.Duration) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(RetryCount(d.Headers) + 1)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(cctx, "", RetryQueue(queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      headers,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	})
}
