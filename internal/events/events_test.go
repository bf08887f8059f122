package events

import (
	"context"
	"errors"
	"testing"

	"github.com/narvanalabs/deploylogs/internal/store"
	"github.com/narvanalabs/deploylogs/internal/store/memory"
)

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishLog(ctx context.Context, row *store.LogRow) error {
	p.calls++
	return errors.New("publish failed")
}

func (p *failingPublisher) Close() error { return nil }

func TestNoopPublisher(t *testing.T) {
	pub := &NoopPublisher{}
	if err := pub.PublishLog(context.Background(), &store.LogRow{}); err != nil {
		t.Fatalf("NoopPublisher.PublishLog returned unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("NoopPublisher.Close returned unexpected error: %v", err)
	}
}

func TestPublishingStore_PublishesStoredRow(t *testing.T) {
	broker := NewBroker(nil)
	st := NewPublishingStore(memory.NewLogStore(), broker, nil)

	ch, cancel, err := broker.Subscribe(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	stored, err := st.Insert(context.Background(), &store.LogRow{
		DeploymentID: "dep-1",
		UserID:       "u1",
		LogLevel:     "info",
		Message:      "hello",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got := receiveRow(t, ch)
	if got.ID != stored.ID {
		t.Errorf("published id %q, stored id %q", got.ID, stored.ID)
	}
	if got.CreatedAt.IsZero() {
		t.Error("published row should carry the store-assigned timestamp")
	}
}

func TestPublishingStore_PublishFailureDoesNotFailInsert(t *testing.T) {
	pub := &failingPublisher{}
	mem := memory.NewLogStore()
	st := NewPublishingStore(mem, pub, nil)

	if _, err := st.Insert(context.Background(), &store.LogRow{DeploymentID: "dep-1", UserID: "u1", LogLevel: "info", Message: "m"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if pub.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", pub.calls)
	}
	if mem.Len("dep-1") != 1 {
		t.Errorf("stored rows = %d, want 1", mem.Len("dep-1"))
	}
}

func TestPublishingStore_InsertFailureSkipsPublish(t *testing.T) {
	pub := &failingPublisher{}
	st := NewPublishingStore(memory.NewLogStore(), pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.Insert(ctx, &store.LogRow{DeploymentID: "dep-1"}); err == nil {
		t.Fatal("expected insert error")
	}
	if pub.calls != 0 {
		t.Errorf("publisher should not be called on insert failure, calls = %d", pub.calls)
	}
}
