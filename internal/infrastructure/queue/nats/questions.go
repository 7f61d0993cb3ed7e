package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// reply is the wire envelope of a question response.
type reply struct {
	Answer *domain.Answer `json:"answer,omitempty"`
	Error  *replyError    `json:"error,omitempty"`
}

type replyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ServeOptions struct {
	// Timeout bounds one question; zero leaves it to the pipeline budgets.
	Timeout time.Duration
	// Concurrency caps questions handled at once by this worker.
	Concurrency int
}

// ServeQuestions answers questions from the queue group until ctx is done,
// then drains the subscription and waits for in-flight questions.
func (b *Bus) ServeQuestions(ctx context.Context, answerer ports.QuestionAnswerer, opts ServeOptions) error {
	concurrency := int64(opts.Concurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)
	// In-flight questions outlive ctx so the drain below can let them finish.
	handlerBase := context.WithoutCancel(ctx)

	sub, err := b.conn.QueueSubscribe(b.questionSubject, b.queueGroup, func(msg *nats.Msg) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func() {
			defer sem.Release(1)
			handlerCtx := handlerBase
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				handlerCtx, cancel = context.WithTimeout(handlerBase, opts.Timeout)
				defer cancel()
			}
			if err := msg.Respond(handleQuestion(handlerCtx, answerer, msg.Data)); err != nil {
				slog.Warn("nats_respond_failed", "subject", msg.Subject, "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	slog.Info("nats_questions_subscribed", "subject", b.questionSubject, "queue", b.queueGroup, "concurrency", concurrency)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sem.Acquire(waitCtx, concurrency); err != nil {
		slog.Warn("nats_in_flight_questions_abandoned", "error", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func handleQuestion(ctx context.Context, answerer ports.QuestionAnswerer, data []byte) []byte {
	var req domain.AskRequest
	var out reply
	if err := json.Unmarshal(data, &req); err != nil {
		out.Error = encodeError(domain.WrapError(domain.ErrInvalidInput, "nats.decode_question", err))
	} else if answer, err := answerer.Ask(ctx, req); err != nil {
		out.Error = encodeError(err)
	} else {
		out.Answer = answer
	}
	raw, err := json.Marshal(out)
	if err != nil {
		slog.Error("nats_encode_reply_failed", "error", err)
		raw, _ = json.Marshal(reply{Error: &replyError{Kind: kindTemporary, Message: "encode reply"}})
	}
	return raw
}

// RemoteAnswerer forwards questions to the worker queue group.
type RemoteAnswerer struct {
	bus *Bus
}

var _ ports.QuestionAnswerer = (*RemoteAnswerer)(nil)

func NewRemoteAnswerer(bus *Bus) *RemoteAnswerer {
	return &RemoteAnswerer{bus: bus}
}

func (r *RemoteAnswerer) Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	const op = "nats.ask"
	data, err := json.Marshal(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	msg, err := r.bus.conn.RequestWithContext(ctx, r.bus.questionSubject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, domain.WrapError(domain.ErrTimeout, op, err)
		}
		return nil, domain.WrapError(domain.ErrTemporary, op, err)
	}
	return decodeReply(msg.Data)
}

func decodeReply(data []byte) (*domain.Answer, error) {
	const op = "nats.ask"
	var out reply
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, op, fmt.Errorf("decode reply: %w", err))
	}
	if out.Error != nil {
		return nil, decodeError(op, out.Error)
	}
	if out.Answer == nil {
		return nil, domain.WrapError(domain.ErrTemporary, op, errors.New("empty reply"))
	}
	return out.Answer, nil
}
