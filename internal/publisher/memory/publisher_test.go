package memory

import (
	"context"
	"testing"

	"github.com/spectrail/specwatch/internal/product"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	item := product.ReviewItem{ID: "r-1", URL: "https://shop.example.com/p"}
	id1, err := pub.Publish(context.Background(), "review", item)
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "alerts", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "review" || msgs[1].Topic != "alerts" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}
	if got, ok := msgs[0].Payload.(product.ReviewItem); !ok || got.ID != "r-1" {
		t.Fatalf("payload not recorded correctly: %+v", msgs[0].Payload)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}
