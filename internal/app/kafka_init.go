package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

const kafkaClientID = "orders-service"

// initKafkaProducer создаёт producer, если заданы брокеры.
// Без брокеров возвращает nil, nil: события заказов не публикуются.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not set, order events are disabled")
		return nil, nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  brokers,
		ClientID: kafkaClientID,
		Logger:   logger.WithField("layer", "kafka"),
	})
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}
