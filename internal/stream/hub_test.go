package stream_test

import (
	"testing"

	"github.com/atlas-desktop/atlas-bridge/internal/stream"
	"go.uber.org/zap"
)

func TestSubscribeRejectsUnknownChannel(t *testing.T) {
	hub := stream.NewHub(zap.NewNop())
	c := hub.NewClient("c1", nil)

	if err := hub.Subscribe(c, "not_a_real_channel"); err == nil {
		t.Fatal("expected error subscribing to an unknown channel")
	}
}

func TestSubscribeAcceptsKnownChannel(t *testing.T) {
	hub := stream.NewHub(zap.NewNop())
	c := hub.NewClient("c1", nil)

	if err := hub.Subscribe(c, string(stream.ChannelOrderFilled)); err != nil {
		t.Fatalf("expected known channel to be accepted, got %v", err)
	}
}

func TestPublishAllocatesMonotonicSequenceAcrossChannels(t *testing.T) {
	hub := stream.NewHub(zap.NewNop())

	seq1, err := hub.Publish(stream.ChannelOrderFilled, map[string]string{"x": "1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	seq2, err := hub.Publish(stream.ChannelPositionUpdate, map[string]string{"x": "2"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	seq3, err := hub.Publish(stream.ChannelOrderFilled, map[string]string{"x": "3"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if !(seq1 < seq2 && seq2 < seq3) {
		t.Errorf("expected strictly increasing sequence ids across channels, got %d, %d, %d", seq1, seq2, seq3)
	}
	if hub.CurrentSequence() != seq3 {
		t.Errorf("expected CurrentSequence to reflect the last allocated id, got %d want %d", hub.CurrentSequence(), seq3)
	}
}

func TestPublishWithNoSubscribersStillAllocatesSequence(t *testing.T) {
	hub := stream.NewHub(zap.NewNop())

	seq, err := hub.Publish(stream.ChannelRiskAlert, map[string]string{"alert": "none"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected first publish to allocate sequence 1, got %d", seq)
	}
}
