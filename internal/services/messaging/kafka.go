package messaging

import (
	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"sentinel-worker-go/internal/services/auditlog"
)

// KafkaMirror copies audit records to a topic, keyed by camera so one
// camera's records stay ordered within a partition
type KafkaMirror struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaMirror(brokers []string, topic string) (*KafkaMirror, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "sentinel-worker"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka audit mirror connected")
	return NewKafkaMirrorWithProducer(producer, topic), nil
}

func NewKafkaMirrorWithProducer(producer sarama.SyncProducer, topic string) *KafkaMirror {
	return &KafkaMirror{producer: producer, topic: topic}
}

func (k *KafkaMirror) MirrorAudit(rec auditlog.Record, line []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(rec.Meta.CamID),
		Value: sarama.ByteEncoder(line),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(rec.Type)},
		},
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return err
	}

	log.Debug().Str("topic", k.topic).Int32("partition", partition).Int64("offset", offset).Msg("Audit record mirrored to Kafka")
	return nil
}

func (k *KafkaMirror) Close() error {
	return k.producer.Close()
}
