//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	platformkafka "hustings/internal/platform/kafka"
	audit "hustings/pkg/platform/audit"
	"hustings/pkg/platform/audit/publishers/kafka"
	"hustings/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaPublisherSuite) TestPublishedEventIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "audit-it-" + time.Now().Format("150405.000")

	producer, err := kgo.NewClient(kgo.SeedBrokers(s.redpanda.Brokers...))
	s.Require().NoError(err)
	defer producer.Close()
	s.Require().NoError(platformkafka.EnsureTopic(ctx, producer, topic, 1, 1))
	s.Require().NoError(platformkafka.EnsureTopic(ctx, producer, topic, 1, 1), "ensure is idempotent")

	pub := kafka.New(producer, topic)
	s.Require().NoError(pub.Emit(ctx, audit.Event{ID: "e1", Type: audit.EventBallotRecorded, Subject: "ballot-1"}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().Len(records, 1)

	var got audit.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(audit.EventBallotRecorded, got.Type)
	s.Equal("ballot-1", string(records[0].Key))
}
