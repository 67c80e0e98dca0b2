package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/voice-dialer/internal/config"
)

const dialTimeout = 10 * time.Second

// Kafka builds readers and writers against the configured brokers.
type Kafka struct {
	cfg       config.KafkaConfig
	transport *kafka.Transport
}

// NewKafka validates the broker list and prepares a shared transport.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return &Kafka{
		cfg:       cfg,
		transport: &kafka.Transport{ClientID: cfg.ClientID, DialTimeout: dialTimeout},
	}, nil
}

// NewWriter returns a synchronous writer for topic. Messages sharing a key
// land on the same partition, which keeps events for one call in order.
func (k *Kafka) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Transport:              k.transport,
		AllowAutoTopicCreation: false,
	}
}

// NewReader returns a group reader that replays from the oldest offset when
// the group is new. Durable consumers such as webhook processing use it.
func (k *Kafka) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(k.readerConfig(topic, groupID, kafka.FirstOffset))
}

// NewTailReader returns a group reader that starts at the head of the topic
// when the group is new. Live fan-out uses it to skip history.
func (k *Kafka) NewTailReader(topic, groupID string) *kafka.Reader {
	rc := k.readerConfig(topic, groupID, kafka.LastOffset)
	rc.MinBytes = 1
	rc.MaxWait = 250 * time.Millisecond
	return kafka.NewReader(rc)
}

func (k *Kafka) readerConfig(topic, groupID string, start int64) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		StartOffset:    start,
		CommitInterval: k.cfg.CommitInterval,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		Dialer:         &kafka.Dialer{Timeout: dialTimeout, ClientID: k.cfg.ClientID},
	}
}

// Topics lists the topics the dialer owns.
func (k *Kafka) Topics() []string {
	return []string{k.cfg.EventsTopic, k.cfg.WebhookTopic}
}

// Ping dials the first reachable broker and asks for cluster metadata.
func (k *Kafka) Ping(ctx context.Context) error {
	conn, err := k.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("kafka: metadata: %w", err)
	}
	return nil
}

// EnsureTopics creates any missing topic through the cluster controller.
func (k *Kafka) EnsureTopics(ctx context.Context, topics []string, partitions, replicationFactor int) error {
	conn, err := k.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	existing, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka: read partitions: %w", err)
	}
	exists := make(map[string]bool, len(existing))
	for _, p := range existing {
		exists[p.Topic] = true
	}

	var missing []kafka.TopicConfig
	for _, topic := range topics {
		if exists[topic] {
			continue
		}
		missing = append(missing, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}
	if len(missing) == 0 {
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: controller: %w", err)
	}
	dialer := &kafka.Dialer{Timeout: dialTimeout, ClientID: k.cfg.ClientID}
	cc, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("kafka: dial controller: %w", err)
	}
	defer cc.Close()

	if err := cc.CreateTopics(missing...); err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	return nil
}

func (k *Kafka) dial(ctx context.Context) (*kafka.Conn, error) {
	dialer := &kafka.Dialer{Timeout: dialTimeout, ClientID: k.cfg.ClientID}
	var lastErr error
	for _, broker := range k.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("kafka: dial: %w", lastErr)
}
