package bus

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collect subscribes to topic and forwards every message to the returned channel.
func collect(t *testing.T, b domain.EventBus, topic string) (<-chan *domain.Message, domain.Subscription) {
	t.Helper()
	ch := make(chan *domain.Message, 16)
	sub, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	return ch, sub
}

func expectMessage(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectSilence(t *testing.T, ch <-chan *domain.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Errorf("unexpected message on %s: %s", msg.Topic, msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	t.Run("Envelope", func(t *testing.T) {
		ch, _ := collect(t, b, domain.TopicScanRequested)

		if err := b.Publish(ctx, domain.TopicScanRequested, []byte(`{"contentType":"text"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := expectMessage(t, ch)
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Errorf("expected id and timestamp, got %+v", msg)
		}
		if msg.Topic != domain.TopicScanRequested {
			t.Errorf("expected topic %s, got %s", domain.TopicScanRequested, msg.Topic)
		}
		if string(msg.Payload) != `{"contentType":"text"}` {
			t.Errorf("unexpected payload %s", msg.Payload)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		raised, _ := collect(t, b, domain.TopicAlertRaised)
		moved, _ := collect(t, b, domain.TopicAlertTransitioned)

		b.Publish(ctx, domain.TopicAlertRaised, []byte("a-1"))

		expectMessage(t, raised)
		expectSilence(t, moved)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		ch, sub := collect(t, b, domain.TopicHealingAction)

		b.Publish(ctx, domain.TopicHealingAction, []byte("block_ip"))
		expectMessage(t, ch)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		b.Publish(ctx, domain.TopicHealingAction, []byte("disable_account"))
		expectSilence(t, ch)
	})

	t.Run("FanOut", func(t *testing.T) {
		first, _ := collect(t, b, domain.TopicNotification)
		second, _ := collect(t, b, domain.TopicNotification)

		b.Publish(ctx, domain.TopicNotification, []byte("responder"))

		expectMessage(t, first)
		expectMessage(t, second)
	})

	t.Run("RequestReply", func(t *testing.T) {
		b.Subscribe(ctx, "kestrel.test.echo", func(ctx context.Context, msg *domain.Message) error {
			return b.Publish(ctx, msg.Metadata[MetaReplyTo], append([]byte("re:"), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := b.Request(reqCtx, "kestrel.test.echo", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re:ping" {
			t.Errorf("expected re:ping, got %s", reply)
		}
	})

	t.Run("RequestTimeout", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		if _, err := b.Request(reqCtx, "kestrel.test.nobody", nil); err == nil {
			t.Error("expected timeout without a responder")
		}
	})

	t.Run("PublishJSON", func(t *testing.T) {
		ch, _ := collect(t, b, domain.TopicAlertRaised)

		err := PublishJSON(ctx, b, domain.TopicAlertRaised, domain.AlertEvent{AlertID: "a-1", To: domain.AlertOpen})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := expectMessage(t, ch)
		if want := `"alertId":"a-1"`; !strings.Contains(string(msg.Payload), want) {
			t.Errorf("payload %s missing %s", msg.Payload, want)
		}
	})

	t.Run("HandlerErrorDoesNotStopDelivery", func(t *testing.T) {
		var calls atomic.Int32
		b.Subscribe(ctx, "kestrel.test.flaky", func(ctx context.Context, msg *domain.Message) error {
			calls.Add(1)
			return context.DeadlineExceeded
		})
		ch, _ := collect(t, b, "kestrel.test.flaky")

		b.Publish(ctx, "kestrel.test.flaky", []byte("1"))
		b.Publish(ctx, "kestrel.test.flaky", []byte("2"))
		expectMessage(t, ch)
		expectMessage(t, ch)

		if calls.Load() != 2 {
			t.Errorf("expected failing handler to see 2 messages, got %d", calls.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		_, sub := collect(t, b, domain.TopicScanCompleted)
		if sub.Topic() != domain.TopicScanCompleted {
			t.Errorf("expected topic %s, got %s", domain.TopicScanCompleted, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	collect(t, b, domain.TopicScanRequested)

	if err := b.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := b.Publish(ctx, domain.TopicScanRequested, []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()
	ctx := context.Background()

	const topic = "kestrel.test.slow"
	before := testutil.ToFloat64(metrics.BusDropped.WithLabelValues(topic))

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	b.Subscribe(ctx, topic, func(ctx context.Context, msg *domain.Message) error {
		entered <- struct{}{}
		<-release
		return nil
	})

	b.Publish(ctx, topic, []byte("1"))
	<-entered
	b.Publish(ctx, topic, []byte("2"))
	b.Publish(ctx, topic, []byte("3"))
	close(release)

	if got := testutil.ToFloat64(metrics.BusDropped.WithLabelValues(topic)); got != before+1 {
		t.Errorf("expected 1 dropped message, got %v", got-before)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("DefaultsToChannel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected ChannelBus, got %T", b)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestNATSSubject(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		topic  string
		want   string
	}{
		{"NoPrefix", "", domain.TopicScanRequested, "kestrel.scan.requested"},
		{"Prefixed", "staging.", domain.TopicScanRequested, "staging.kestrel.scan.requested"},
		{"InboxUntouched", "staging.", "_INBOX.abc.1", "_INBOX.abc.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &NATSBus{prefix: tt.prefix}
			if got := b.subject(tt.topic); got != tt.want {
				t.Errorf("subject(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()
	ctx := context.Background()

	const messageCount = 100
	done := make(chan struct{})
	var received atomic.Int32

	b.Subscribe(ctx, domain.TopicScanCompleted, func(ctx context.Context, msg *domain.Message) error {
		if received.Add(1) == messageCount {
			close(done)
		}
		return nil
	})

	for i := 0; i < messageCount; i++ {
		b.Publish(ctx, domain.TopicScanCompleted, []byte("msg"))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
