package kafka

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Brokers converte "a:9092,b:9092" em lista, ignorando entradas vazias
func Brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewWriter cria um writer síncrono; o fechamento da rodada espera o ack do broker
func NewWriter(brokers string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(Brokers(brokers)...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // mesma chave, mesma partição
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

// NewReader cria um reader de consumer group com commit explícito (CommitInterval 0)
func NewReader(brokers string, topic string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     Brokers(brokers),
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
}
