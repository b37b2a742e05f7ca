package constants

import (
	"testing"
	"time"
)

func TestCalculateSubmitBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 2 * time.Second}, // Clamped to first attempt
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 6 * time.Second},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			got := CalculateSubmitBackoff(tt.attempt)
			if got != tt.want {
				t.Errorf("CalculateSubmitBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestInferCreditPack(t *testing.T) {
	tests := []struct {
		credits int64
		want    CreditPackID
	}{
		{10, PackStarter},
		{50, PackStarter},
		{51, PackGrowth},
		{200, PackGrowth},
		{201, PackPro},
		{500, PackPro},
		{5000, PackPro},
	}

	for _, tt := range tests {
		if got := InferCreditPack(tt.credits); got != tt.want {
			t.Errorf("InferCreditPack(%d) = %q, want %q", tt.credits, got, tt.want)
		}
	}
}

func TestLookupCreditPack(t *testing.T) {
	id, pack, ok := LookupCreditPack("growth")
	if !ok {
		t.Fatal("expected growth pack to exist")
	}
	if id != PackGrowth || pack.Credits != 200 {
		t.Errorf("got %q/%d, want growth/200", id, pack.Credits)
	}

	if _, _, ok := LookupCreditPack("enterprise"); ok {
		t.Error("expected unknown pack lookup to fail")
	}
}

func TestCreditPacks_InferenceMatchesTable(t *testing.T) {
	for id, pack := range CreditPacks {
		if got := InferCreditPack(pack.Credits); got != id {
			t.Errorf("InferCreditPack(%d) = %q, want %q", pack.Credits, got, id)
		}
	}
}
