package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

var _ ports.AnswerTracePublisher = (*Bus)(nil)

func (b *Bus) PublishAnswerTrace(ctx context.Context, trace domain.AnswerTrace) error {
	data, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshal answer trace: %w", err)
	}
	call := func(_ context.Context) error {
		if err := b.conn.Publish(b.traceSubject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish_trace", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}
