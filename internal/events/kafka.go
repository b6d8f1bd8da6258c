package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/heimdex/heimdex-storyboard/internal/metrics"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

const (
	DefaultProgressTopic  = "storyboard.run.progress"
	DefaultCompletedTopic = "storyboard.run.completed"
)

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	ProgressTopic  string
	CompletedTopic string
	ClientID       string
}

// Publisher writes run events to Kafka, keyed by run ID. When disabled it
// only logs.
type Publisher struct {
	progress  *kafka.Writer
	completed *kafka.Writer
	cfg       KafkaConfig
	enabled   bool
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewPublisher(cfg KafkaConfig, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kafka")
	if cfg.ProgressTopic == "" {
		cfg.ProgressTopic = DefaultProgressTopic
	}
	if cfg.CompletedTopic == "" {
		cfg.CompletedTopic = DefaultCompletedTopic
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, using log-only mode")
		return &Publisher{cfg: cfg, logger: logger, metrics: m}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		ClientID:  cfg.ClientID,
	}
	transport := &kafka.Transport{
		Dial:     dialer.DialFunc,
		ClientID: cfg.ClientID,
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info("kafka publisher initialised",
		"brokers", cfg.Brokers,
		"progress_topic", cfg.ProgressTopic,
		"completed_topic", cfg.CompletedTopic,
	)
	return &Publisher{
		progress:  newWriter(cfg.ProgressTopic),
		completed: newWriter(cfg.CompletedTopic),
		cfg:       cfg,
		enabled:   true,
		logger:    logger,
		metrics:   m,
	}
}

func (p *Publisher) Enabled() bool { return p.enabled }

func (p *Publisher) Progress(ctx context.Context, ev RunEvent) {
	ev = stamp(ev)
	p.publish(ctx, p.progress, p.cfg.ProgressTopic, typeProgress, ev.RunID, ev)
}

func (p *Publisher) Completed(ctx context.Context, result *storyboard.Result) {
	if result == nil {
		return
	}
	p.publish(ctx, p.completed, p.cfg.CompletedTopic, typeCompleted, result.RunID, CompletedEvent{
		Type:   typeCompleted,
		RunID:  result.RunID,
		Result: result,
		Time:   time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, w *kafka.Writer, topic, eventType, key string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", "topic", topic, "error", err)
		p.metrics.RecordEvent("kafka", err)
		return
	}

	p.logger.Debug("publishing event", "topic", topic, "key", key, "bytes", len(payload))
	if !p.enabled || w == nil {
		return
	}

	err = w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
		},
	})
	p.metrics.RecordEvent("kafka", err)
	if err != nil {
		p.logger.Error("failed to write to kafka", "topic", topic, "key", key, "error", err)
	}
}

func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.progress, p.completed} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			p.logger.Error("error closing kafka writer", "topic", w.Topic, "error", e)
			err = e
		}
	}
	return err
}
