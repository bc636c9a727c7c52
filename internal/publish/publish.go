// Package publish sends extraction requests to Kafka so other services can pick up the clips.
package publish

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/cameo/internal/config"
	"github.com/andresmejia3/cameo/internal/export"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Message is the JSON value of every published record.
type Message struct {
	RunID   string         `json:"run_id"`
	VideoID string         `json:"video_id"`
	Status  string         `json:"status"`
	Request export.Request `json:"request"`
}

// Publisher is safe for concurrent use by extract jobs.
type Publisher struct {
	producer     *kafka.Producer
	topic        string
	runID        uuid.UUID
	flushTimeout time.Duration
	deliveryChan chan kafka.Event
	logger       zerolog.Logger

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg   sync.WaitGroup
	done chan struct{}
}

// New connects a producer. Every message carries runID in its run-id header.
func New(cfg config.KafkaConfig, runID uuid.UUID, logger zerolog.Logger) (*Publisher, error) {
	if cfg.BootstrapServers == "" {
		return nil, fmt.Errorf("kafka bootstrap servers are not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is not configured")
	}

	p, err := kafka.NewProducer(producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	pub := &Publisher{
		producer:     p,
		topic:        cfg.Topic,
		runID:        runID,
		flushTimeout: time.Duration(cfg.FlushTimeoutMs) * time.Millisecond,
		deliveryChan: make(chan kafka.Event, 1000),
		logger:       logger.With().Str("component", "publish").Logger(),
		done:         make(chan struct{}),
	}

	pub.wg.Add(1)
	go pub.handleDeliveryReports()

	pub.logger.Info().Str("topic", cfg.Topic).Str("servers", cfg.BootstrapServers).Msg("kafka producer ready")
	return pub, nil
}

func producerConfig(cfg config.KafkaConfig) *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"client.id":          cfg.ClientID,
		"acks":               "all",
		"enable.idempotence": true,
		"compression.type":   "snappy",
		"linger.ms":          10,
	}
	if cfg.SecurityProtocol != "" {
		cm.SetKey("security.protocol", cfg.SecurityProtocol)
	}
	if cfg.SASLMechanism != "" {
		cm.SetKey("sasl.mechanism", cfg.SASLMechanism)
		cm.SetKey("sasl.username", cfg.SASLUsername)
		cm.SetKey("sasl.password", cfg.SASLPassword)
	}
	return cm
}

func (p *Publisher) handleDeliveryReports() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			p.drainDeliveryReports()
			return
		case e := <-p.deliveryChan:
			p.handleEvent(e)
		}
	}
}

// drainDeliveryReports counts reports already buffered when shutdown starts.
func (p *Publisher) drainDeliveryReports() {
	for {
		select {
		case e := <-p.deliveryChan:
			p.handleEvent(e)
		default:
			return
		}
	}
}

func (p *Publisher) handleEvent(e kafka.Event) {
	m, ok := e.(*kafka.Message)
	if !ok {
		return
	}
	if m.TopicPartition.Error != nil {
		p.failed.Add(1)
		p.logger.Error().Err(m.TopicPartition.Error).Str("key", string(m.Key)).Msg("delivery failed")
	} else {
		p.acked.Add(1)
	}
}

// Publish queues one request. Delivery is reported asynchronously.
func (p *Publisher) Publish(videoID string, req export.Request, status string) error {
	msg, err := BuildMessage(p.topic, p.runID, videoID, req, status)
	if err != nil {
		return err
	}
	if err := p.producer.Produce(msg, p.deliveryChan); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to queue %s: %w", req.Fingerprint, err)
	}
	p.sent.Add(1)
	return nil
}

// BuildMessage encodes req as JSON, keyed by its fingerprint.
func BuildMessage(topic string, runID uuid.UUID, videoID string, req export.Request, status string) (*kafka.Message, error) {
	payload, err := json.Marshal(Message{
		RunID:   runID.String(),
		VideoID: videoID,
		Status:  status,
		Request: req,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(req.Fingerprint),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "run-id", Value: []byte(runID.String())},
			{Key: "video-id", Value: []byte(videoID)},
		},
	}, nil
}

// Stats returns sent, acknowledged and failed message counts.
func (p *Publisher) Stats() (sent, acked, failed int64) {
	return p.sent.Load(), p.acked.Load(), p.failed.Load()
}

// Close flushes pending messages and shuts the producer down.
func (p *Publisher) Close() {
	timeout := p.flushTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if remaining := p.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		p.logger.Warn().Int("remaining", remaining).Msg("messages still queued after flush timeout")
	}

	close(p.done)
	p.wg.Wait()
	p.producer.Close()

	sent, acked, failed := p.Stats()
	p.logger.Info().Int64("sent", sent).Int64("acked", acked).Int64("failed", failed).Msg("kafka producer closed")
}
