// Package pubsub publishes job notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/download"
)

const publishTimeout = 30 * time.Second

// Notifier publishes each notification as a JSON message. Publish results
// are checked in the background so Notify never blocks the caller.
type Notifier struct {
	publisher *pubsub.Publisher
	logger    *zap.Logger
	pending   sync.WaitGroup
}

// New creates a Notifier for the provided topic publisher.
func New(publisher *pubsub.Publisher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, logger: logger.Named("notify_pubsub")}
}

// Notify implements download.Notifier.
func (n *Notifier) Notify(ctx context.Context, msg download.Notification) {
	data, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("marshal notification", zap.String("job_id", msg.JobID), zap.Error(err))
		return
	}

	m := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":   string(msg.Kind),
			"job_id": msg.JobID,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: m.Attributes})

	// The result outlives the command that produced it.
	ctx = context.WithoutCancel(ctx)
	result := n.publisher.Publish(ctx, m)

	n.pending.Add(1)
	go func() {
		defer n.pending.Done()
		getCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		id, err := result.Get(getCtx)
		if err != nil {
			n.logger.Warn("publish notification", zap.String("job_id", msg.JobID), zap.Error(err))
			return
		}
		n.logger.Debug("notification published", zap.String("job_id", msg.JobID), zap.String("message_id", id))
	}()
}

// Close flushes outstanding messages and waits for their results.
func (n *Notifier) Close() {
	n.publisher.Stop()
	n.pending.Wait()
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
