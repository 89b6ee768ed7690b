package memory

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"live-quiz-service/internal/domain"
)

func TestHubSequencesPerSession(t *testing.T) {
	hub := NewHub(8, zaptest.NewLogger(t))
	ctx := context.Background()
	ch, cancel, _ := hub.Subscribe(ctx, "s1")
	defer cancel()

	for i := 0; i < 3; i++ {
		_ = hub.Publish(ctx, domain.Envelope{SessionID: "s1", Event: domain.AnswerSubmitted{PlayerID: "p"}})
	}
	_ = hub.Publish(ctx, domain.Envelope{SessionID: "s2", Event: domain.AnswerSubmitted{PlayerID: "p"}})

	for want := int64(1); want <= 3; want++ {
		select {
		case env := <-ch:
			if env.Seq != want {
				t.Fatalf("expected seq %d, got %d", want, env.Seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for seq %d", want)
		}
	}
	select {
	case env := <-ch:
		t.Fatalf("received event of another session: %+v", env)
	default:
	}
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewHub(2, zaptest.NewLogger(t))
	ctx := context.Background()
	slow, cancelSlow, _ := hub.Subscribe(ctx, "s1")
	defer cancelSlow()
	fast, cancelFast, _ := hub.Subscribe(ctx, "s1")
	defer cancelFast()

	for i := 0; i < 3; i++ {
		_ = hub.Publish(ctx, domain.Envelope{SessionID: "s1", Event: domain.AnswerSubmitted{PlayerID: "p"}})
		<-fast
	}

	received := 0
	for range slow {
		received++
	}
	if received != 2 {
		t.Fatalf("expected slow subscriber to drain 2 events before close, got %d", received)
	}
	if n := hub.Subscribers("s1"); n != 1 {
		t.Fatalf("expected one remaining subscriber, got %d", n)
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	hub := NewHub(1, nil)
	ch, cancel, _ := hub.Subscribe(context.Background(), "s1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if n := hub.Subscribers("s1"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}
