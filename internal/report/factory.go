package report

import (
	"strings"

	"github.com/fencewise/geosync/internal/config"
	"github.com/fencewise/geosync/internal/pkg/logger"
)

// NewSink creates a sink from configuration. Sink failures degrade to the
// log sink rather than failing startup: reporting is never worth refusing to
// run for.
func NewSink(cfg config.ReportConfig, log *logger.Logger) Sink {
	switch cfg.Type {
	case "kafka":
		sink, err := NewKafkaSink(KafkaConfig{
			Brokers:  parseBrokers(cfg.KafkaBrokers),
			Topic:    cfg.KafkaTopic,
			ClientID: cfg.ClientID,
		}, log)
		if err != nil {
			log.Warn("Kafka report sink unavailable, falling back to log sink", "error", err)
			return NewLogSink(log)
		}
		return sink
	default:
		return NewLogSink(log)
	}
}

func parseBrokers(brokersStr string) []string {
	if brokersStr == "" {
		return nil
	}
	brokers := strings.Split(brokersStr, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return brokers
}
