package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProduceClient struct {
	produced []*kgo.Record
	err      error
	closed   bool
}

func (f *fakeProduceClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		f.produced = append(f.produced, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProduceClient) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	f.produced = append(f.produced, r)
	promise(r, f.err)
}

func (f *fakeProduceClient) Ping(context.Context) error  { return nil }
func (f *fakeProduceClient) Flush(context.Context) error { return nil }
func (f *fakeProduceClient) Close()                      { f.closed = true }

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(context.Background(), &ProducerConfig{})
	assert.Error(t, err)
}

func TestProducer_ProduceJSON(t *testing.T) {
	fc := &fakeProduceClient{}
	p := &Producer{client: fc, config: &ProducerConfig{}}

	payload := map[string]string{"to": "a@x.com"}
	err := p.ProduceJSON(context.Background(), "contacts.email", "a@x.com", payload, map[string]string{"kind": "confirm_email"})
	require.NoError(t, err)

	require.Len(t, fc.produced, 1)
	r := fc.produced[0]
	assert.Equal(t, "contacts.email", r.Topic)
	assert.Equal(t, []byte("a@x.com"), r.Key)
	assert.Equal(t, []kgo.RecordHeader{{Key: "kind", Value: []byte("confirm_email")}}, r.Headers)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(r.Value, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestProducer_ProduceError(t *testing.T) {
	fc := &fakeProduceClient{err: errors.New("broker down")}
	p := &Producer{client: fc, config: &ProducerConfig{}}

	err := p.Produce(context.Background(), &Message{Topic: "t", Value: []byte("v")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestProducer_ProduceAsyncCallback(t *testing.T) {
	fc := &fakeProduceClient{err: errors.New("nope")}
	p := &Producer{client: fc, config: &ProducerConfig{}}

	var got error
	p.ProduceAsync(context.Background(), &Message{Topic: "t"}, func(err error) { got = err })
	assert.EqualError(t, got, "nope")

	p.Close()
	assert.True(t, fc.closed)
}

type fakeConsumeClient struct {
	fetches   kgo.Fetches
	committed []*kgo.Record
}

func (f *fakeConsumeClient) PollRecords(context.Context, int) kgo.Fetches { return f.fetches }
func (f *fakeConsumeClient) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	f.committed = append(f.committed, rs...)
	return nil
}
func (f *fakeConsumeClient) Ping(context.Context) error { return nil }
func (f *fakeConsumeClient) Close()                     {}

func fetchesOf(topic string, partitionErr error, records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic: topic,
			Partitions: []kgo.FetchPartition{{
				Partition: 0,
				Err:       partitionErr,
				Records:   records,
			}},
		}},
	}}
}

func TestConsumer_PollAndCommit(t *testing.T) {
	raw := &kgo.Record{
		Topic:   "contacts.email",
		Offset:  7,
		Key:     []byte("k"),
		Value:   []byte(`{}`),
		Headers: []kgo.RecordHeader{{Key: "traceparent", Value: []byte("00-abc")}},
	}
	fc := &fakeConsumeClient{fetches: fetchesOf("contacts.email", nil, raw)}
	c := &Consumer{client: fc, config: &ConsumerConfig{}}

	records, err := c.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].Offset)
	assert.Equal(t, "00-abc", records[0].Headers["traceparent"])

	require.NoError(t, c.CommitRecords(context.Background(), records))
	assert.Equal(t, []*kgo.Record{raw}, fc.committed)
}

func TestConsumer_PollFetchError(t *testing.T) {
	fc := &fakeConsumeClient{fetches: fetchesOf("contacts.email", errors.New("leader not available"))}
	c := &Consumer{client: fc, config: &ConsumerConfig{}}

	_, err := c.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(context.Background(), &ConsumerConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
