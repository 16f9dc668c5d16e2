// Package eventbus publishes downstream notifications for import milestones
// (block imported, fork detected, gap repaired), completing the teacher's own
// ModeKafka stub in chaindata_fetcher.go
// ("case ModeKafka: panic("implement me")"). Grounded on
// datasync/chaindatafetcher/event/kafka/kafka.go's KafkaBroker
// (sarama.AsyncProducer + ClusterAdmin + CreateTopic-before-publish idiom)
// and kafka/repository.go's HandleChainEvent dispatch-by-type shape.
package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("eventbus")

// EventType names one downstream notification (spec.md §4.8 supplement:
// this is no longer part of the distilled spec's Non-goals, since serving
// downstream consumers a change feed is a DOMAIN STACK addition, not a
// duplicate of the GraphQL query surface).
type EventType string

const (
	EventBlockImported EventType = "block:imported"
	EventForkDetected  EventType = "fork:detected"
	EventGapRepaired   EventType = "gap:repaired"
)

// Event is the JSON payload published to each topic.
type Event struct {
	Type   EventType `json:"type"`
	Height uint64    `json:"height"`
	Hash   string    `json:"hash,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Bus publishes Events to a Kafka-compatible broker, one topic per
// EventType, mirroring the teacher's one-topic-per-request-type convention
// (kafka/repository.go: "-blockgroup", "-tracegroup" topic suffixes).
type Bus struct {
	topicPrefix string
	producer    sarama.AsyncProducer
	admin       sarama.ClusterAdmin
	partitions  int32
	replicas    int16
	created     map[string]bool
}

// Config configures the broker connection (internal/config.Config's
// KafkaBrokers field feeds Brokers).
type Config struct {
	Brokers     []string
	TopicPrefix string
	Partitions  int32
	Replicas    int16
}

const (
	defaultPartitions = int32(1)
	defaultReplicas   = int16(1)
)

// New dials the Kafka cluster and prepares a producer + admin client
// (datasync/chaindatafetcher/kafka/config.go's GetDefaultKafkaConfig).
func New(cfg Config) (*Bus, error) {
	if cfg.Partitions == 0 {
		cfg.Partitions = defaultPartitions
	}
	if cfg.Replicas == 0 {
		cfg.Replicas = defaultReplicas
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Compression = sarama.CompressionSnappy
	saramaCfg.Version = sarama.MaxVersion

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, errors.Wrap(err, "starting sarama producer")
	}
	admin, err := sarama.NewClusterAdmin(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, errors.Wrap(err, "starting sarama cluster admin")
	}

	go func() {
		for range producer.Successes() {
		}
	}()
	go func() {
		for perr := range producer.Errors() {
			logger.Warn("failed to publish event", "topic", perr.Msg.Topic, "err", perr.Err)
		}
	}()

	return &Bus{
		topicPrefix: cfg.TopicPrefix,
		producer:    producer,
		admin:       admin,
		partitions:  cfg.Partitions,
		replicas:    cfg.Replicas,
		created:     make(map[string]bool),
	}, nil
}

func (b *Bus) topicFor(evt EventType) string {
	return fmt.Sprintf("%s-%s", b.topicPrefix, evt)
}

func (b *Bus) ensureTopic(topic string) {
	if b.created[topic] {
		return
	}
	err := b.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     b.partitions,
		ReplicationFactor: b.replicas,
	}, false)
	if err != nil && err != sarama.ErrTopicAlreadyExists {
		logger.Warn("failed to create topic", "topic", topic, "err", err)
	}
	b.created[topic] = true
}

// Publish emits one event asynchronously; producer errors surface only via
// logging, matching spec.md §4.8's "best-effort, does not block the import
// path on delivery."
func (b *Bus) Publish(evt Event) error {
	topic := b.topicFor(evt.Type)
	b.ensureTopic(topic)

	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshaling event")
	}

	b.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d", evt.Height)),
		Value: sarama.ByteEncoder(data),
	}
	return nil
}

// BlockImported publishes EventBlockImported for height/hash.
func (b *Bus) BlockImported(height uint64, hash string) error {
	return b.Publish(Event{Type: EventBlockImported, Height: height, Hash: hash})
}

// ForkDetected publishes EventForkDetected for the height where divergence
// was first observed.
func (b *Bus) ForkDetected(height uint64, detail string) error {
	return b.Publish(Event{Type: EventForkDetected, Height: height, Detail: detail})
}

// GapRepaired publishes EventGapRepaired once a previously missing height has
// been backfilled.
func (b *Bus) GapRepaired(height uint64, hash string) error {
	return b.Publish(Event{Type: EventGapRepaired, Height: height, Hash: hash})
}

// Close releases the underlying sarama clients.
func (b *Bus) Close() error {
	if err := b.producer.Close(); err != nil {
		return errors.Wrap(err, "closing sarama producer")
	}
	return b.admin.Close()
}
