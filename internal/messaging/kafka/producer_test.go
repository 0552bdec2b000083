package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_Send(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"ok":true}` {
			t.Errorf("unexpected value %s", val)
		}
		return nil
	})

	producer := NewProducerFromSync(mockProducer, log.WithField("component", "kafka-producer-test"))
	if err := producer.Send(TopicOrderEvents, "order-1", []byte(`{"ok":true}`), map[string]string{HeaderEventType: "order.created"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_Send_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducerFromSync(mockProducer, log.WithField("component", "kafka-producer-test"))
	if err := producer.Send(TopicOrderEvents, "order-1", []byte(`{}`), nil); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewProducer(ProducerConfig{Brokers: []string{" ", ""}}); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestNormalizeBrokers(t *testing.T) {
	got := normalizeBrokers([]string{"a:9092, b:9092", " ", "c:9092"})
	want := []string{"a:9092", "b:9092", "c:9092"}
	if len(got) != len(want) {
		t.Fatalf("unexpected brokers: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected brokers: %v", got)
		}
	}
}

func TestRecordHeaders_Sorted(t *testing.T) {
	headers := recordHeaders(map[string]string{"b": "2", "a": "1"})
	if len(headers) != 2 || string(headers[0].Key) != "a" || string(headers[1].Value) != "2" {
		t.Fatalf("unexpected headers: %+v", headers)
	}
	if recordHeaders(nil) != nil {
		t.Fatal("expected nil headers for empty map")
	}
}

func TestSaramaConfig(t *testing.T) {
	cfg := newSaramaConfig("")
	if cfg.ClientID != defaultClientID {
		t.Fatalf("unexpected client id %q", cfg.ClientID)
	}
	if !cfg.Producer.Idempotent || cfg.Net.MaxOpenRequests != 1 {
		t.Fatal("producer must be idempotent with a single in-flight request")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config must be valid: %v", err)
	}
}
