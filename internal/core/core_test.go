package core

import (
	"testing"
	"time"
)

func TestParseSentiment(t *testing.T) {
	tests := []struct {
		in     string
		want   Sentiment
		wantOK bool
	}{
		{"Bullish", Bullish, true},
		{"bearish", Bearish, true},
		{"  NEUTRAL ", Neutral, true},
		{"positive", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseSentiment(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseSentiment(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSentimentWeight(t *testing.T) {
	if Bullish.Weight() != 1 || Bearish.Weight() != -1 || Neutral.Weight() != 0 {
		t.Errorf("unexpected weights: %v %v %v", Bullish.Weight(), Bearish.Weight(), Neutral.Weight())
	}
}

func TestRawItemText(t *testing.T) {
	item := RawItem{
		ID:        "raw-1",
		Title:     "Chip exports tighten",
		Timestamp: time.Now(),
	}
	if item.Text() != "Chip exports tighten" {
		t.Errorf("Text() without content = %q", item.Text())
	}

	item.Content = "New rules target advanced GPUs."
	want := "Chip exports tighten\n\nNew rules target advanced GPUs."
	if item.Text() != want {
		t.Errorf("Text() = %q, want %q", item.Text(), want)
	}
}

func TestNarrativeUnitHasEmbedding(t *testing.T) {
	var u NarrativeUnit
	if u.HasEmbedding() {
		t.Error("zero unit should not have an embedding")
	}
	u.Embedding = []float64{0.1}
	if !u.HasEmbedding() {
		t.Error("unit with vector should report an embedding")
	}
}
