package anthropic

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PollOptions controls PollBatch.
type PollOptions struct {
	Initial time.Duration // first wait; default 2s
	Cap     time.Duration // longest wait; default 15s
	Timeout time.Duration // applied only when ctx has no deadline; default 30m
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Initial <= 0 {
		o.Initial = 2 * time.Second
	}
	if o.Cap <= 0 {
		o.Cap = 15 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
	return o
}

// PollBatch waits for a batch to end, backing off between polls. Expired and
// canceled batches are errors.
func PollBatch(ctx context.Context, client Client, batchID string, opts PollOptions) (*BatchResponse, error) {
	opts = opts.withDefaults()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	wait := opts.Initial
	for {
		batch, err := client.GetBatch(ctx, batchID)
		if err != nil {
			return nil, eris.Wrapf(err, "anthropic: poll batch %s", batchID)
		}

		switch batch.ProcessingStatus {
		case "ended":
			return batch, nil
		case "expired":
			return batch, eris.Errorf("anthropic: batch %s expired", batchID)
		case "canceled", "canceling":
			return batch, eris.Errorf("anthropic: batch %s canceled", batchID)
		}

		zap.L().Debug("anthropic: batch in progress",
			zap.String("batch_id", batchID),
			zap.Int64("processing", batch.RequestCounts.Processing),
			zap.Duration("next_poll", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrapf(ctx.Err(), "anthropic: poll batch %s", batchID)
		case <-timer.C:
		}
		wait = nextPoll(wait, opts.Cap)
	}
}

// nextPoll doubles d up to limit and perturbs it by up to ±20%.
func nextPoll(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		d = limit
	}
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(2*spread+1)-spread)
}

// BatchCollectResult holds succeeded and failed items from a batch.
type BatchCollectResult struct {
	Succeeded map[string]*MessageResponse
	Failed    map[string]string // custom_id -> result type
}

// CollectBatchResults drains iter, keying results by custom_id.
func CollectBatchResults(iter BatchResultIterator) (*BatchCollectResult, error) {
	defer iter.Close() //nolint:errcheck

	res := &BatchCollectResult{
		Succeeded: make(map[string]*MessageResponse),
		Failed:    make(map[string]string),
	}
	for iter.Next() {
		item := iter.Item()
		if item.Type == "succeeded" && item.Message != nil {
			res.Succeeded[item.CustomID] = item.Message
			continue
		}
		res.Failed[item.CustomID] = item.Type
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "anthropic: collect batch results")
	}

	if len(res.Failed) > 0 {
		zap.L().Warn("anthropic: batch had failed items",
			zap.Int("succeeded", len(res.Succeeded)),
			zap.Int("failed", len(res.Failed)),
		)
	}
	return res, nil
}
