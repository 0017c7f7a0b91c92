// Package dlqreplay implements the bounded dead-letter-queue replay loop
// (C7): it pulls up to a fixed batch size off a topic's DLT, republishes
// each message to the topic's primary exchange, and acks the whole batch
// only if every message in it republished successfully — a partial batch
// is left unacked so it is redelivered on the next run rather than
// silently dropped.
package dlqreplay

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/ledgerbase/posloader/pkg/bus"
	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/metrics"
)

// Replayer bounds how many DLT messages a single ReplayTopic call consumes.
type Replayer struct {
	bus       *bus.Bus
	maxBatch  int
}

// New builds a Replayer; maxBatch is capped at 100 per replay call.
func New(b *bus.Bus, maxBatch int) *Replayer {
	if maxBatch > 100 {
		maxBatch = 100
	}
	return &Replayer{bus: b, maxBatch: maxBatch}
}

// Result summarizes one ReplayTopic call.
type Result struct {
	Topic     string
	Attempted int
	Succeeded int
}

// ReplayTopic drains up to r.maxBatch messages from topic's DLT and
// republishes them. Republish failures are nacked with requeue=true so the
// message returns to the DLT; successes are acked only after every message
// in the batch has republished without error.
func (r *Replayer) ReplayTopic(ctx context.Context, topic string) (*Result, error) {
	logger := log.WithComponent("dlqreplay")

	deliveries, err := r.bus.ConsumeDLQ(ctx, topic, "dlqreplay")
	if err != nil {
		return nil, fmt.Errorf("consume dlq for topic %s: %w", topic, err)
	}

	var batch []amqp.Delivery
	for len(batch) < r.maxBatch {
		select {
		case d, ok := <-deliveries:
			if !ok {
				goto drained
			}
			batch = append(batch, d)
		case <-ctx.Done():
			goto drained
		default:
			goto drained
		}
	}
drained:

	res := &Result{Topic: topic, Attempted: len(batch)}
	if len(batch) == 0 {
		return res, nil
	}

	allOK := true
	for _, d := range batch {
		if err := r.bus.Requeue(ctx, topic, d.Body); err != nil {
			logger.Error().Err(err).Str("topic", topic).Msg("failed to republish dlq message")
			allOK = false
			_ = d.Nack(false, true)
			continue
		}
		res.Succeeded++
	}

	if allOK {
		for _, d := range batch {
			_ = d.Ack(false)
		}
		metrics.DLQReplayedTotal.WithLabelValues(topic, "success").Inc()
	} else {
		metrics.DLQReplayedTotal.WithLabelValues(topic, "partial").Inc()
		logger.Warn().Str("topic", topic).Int("attempted", res.Attempted).Int("succeeded", res.Succeeded).
			Msg("dlq replay batch partially failed, batch left unacked")
	}

	return res, nil
}
