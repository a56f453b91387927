package report

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	apperrors "github.com/fencewise/geosync/internal/pkg/errors"
	"github.com/fencewise/geosync/internal/pkg/logger"
)

// KafkaConfig holds Kafka connection settings for the reporting sink.
type KafkaConfig struct {
	Brokers  []string // Kafka broker addresses
	Topic    string   // Topic receiving lifecycle records
	ClientID string   // Client identifier
	Version  string   // Kafka version (e.g., "2.8.0")
}

// KafkaSink delivers lifecycle records to a Kafka topic. Delivery is
// asynchronous and best effort: broker errors are logged and dropped so the
// hot path never blocks on the sink.
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	log      *logger.Logger
	done     chan struct{}
}

// NewKafkaSink creates a Kafka-backed sink.
func NewKafkaSink(cfg KafkaConfig, log *logger.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "kafka brokers cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "kafka topic cannot be empty")
	}

	// Set defaults
	if cfg.ClientID == "" {
		cfg.ClientID = "geosync-report"
	}
	if cfg.Version == "" {
		cfg.Version = "2.8.0"
	}

	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid kafka version", err)
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = version
	kafkaConfig.ClientID = cfg.ClientID
	kafkaConfig.Producer.Return.Successes = false
	kafkaConfig.Producer.Return.Errors = true
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	kafkaConfig.Net.DialTimeout = 10 * time.Second
	kafkaConfig.Net.WriteTimeout = 10 * time.Second

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "failed to create kafka producer", err)
	}

	s := &KafkaSink{
		producer: producer,
		topic:    cfg.Topic,
		log:      log.WithComponent("report-kafka"),
		done:     make(chan struct{}),
	}
	go s.drainErrors()
	return s, nil
}

func (s *KafkaSink) drainErrors() {
	defer close(s.done)
	for err := range s.producer.Errors() {
		s.log.Warn("Dropping lifecycle record", "topic", s.topic, "error", err.Err)
	}
}

// Report implements Sink.
func (s *KafkaSink) Report(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn("Dropping unmarshalable lifecycle record", "record_id", rec.RecordID, "error", err)
		return
	}

	s.producer.Input() <- &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(rec.RecordID), // partition by crossing record
		Value: sarama.ByteEncoder(data),
	}
}

// Close flushes pending records and shuts the producer down.
func (s *KafkaSink) Close() error {
	err := s.producer.Close()
	<-s.done
	return err
}
