package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/grounded-docqa/internal/infrastructure/resilience"
)

const (
	DefaultQuestionSubject = "docqa.questions"
	DefaultTraceSubject    = "docqa.answers.trace"
	DefaultQueueGroup      = "workers"
)

// Bus carries question request/reply traffic and answer-trace events.
type Bus struct {
	conn            *nats.Conn
	questionSubject string
	traceSubject    string
	queueGroup      string
	executor        *resilience.Executor
}

type Options struct {
	Name                 string
	QuestionSubject      string
	TraceSubject         string
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	// ResilienceExecutor guards publishes. It must not be the provider executor,
	// otherwise broker outages would open the provider circuit.
	ResilienceExecutor *resilience.Executor
}

func Connect(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "grounded-docqa"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newBus(conn, options), nil
}

func newBus(conn *nats.Conn, options Options) *Bus {
	b := &Bus{
		conn:            conn,
		questionSubject: options.QuestionSubject,
		traceSubject:    options.TraceSubject,
		queueGroup:      options.QueueGroup,
		executor:        options.ResilienceExecutor,
	}
	if b.questionSubject == "" {
		b.questionSubject = DefaultQuestionSubject
	}
	if b.traceSubject == "" {
		b.traceSubject = DefaultTraceSubject
	}
	if b.queueGroup == "" {
		b.queueGroup = DefaultQueueGroup
	}
	return b
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Connected reports whether the underlying connection is currently usable.
func (b *Bus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}
