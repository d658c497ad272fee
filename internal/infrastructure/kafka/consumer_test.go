package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestStartOffset(t *testing.T) {
	tests := map[string]int64{
		"":          kafka.FirstOffset,
		"earliest":  kafka.FirstOffset,
		"latest":    kafka.LastOffset,
		" LATEST ":  kafka.LastOffset,
		"somewhere": kafka.FirstOffset,
	}
	for in, want := range tests {
		if got := StartOffset(in); got != want {
			t.Errorf("StartOffset(%q) = %d, want %d", in, got, want)
		}
	}
}
