package app

import (
	"testing"

	"live-quiz-service/internal/domain"
)

func TestOptionPercentagesRoundIndependently(t *testing.T) {
	answers := []domain.Answer{{SelectedOption: 0}, {SelectedOption: 1}, {SelectedOption: 2}}
	got := OptionPercentages(answers, 4)
	want := []int{33, 33, 33, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
	if zero := OptionPercentages(nil, 4); len(zero) != 4 || zero[0] != 0 {
		t.Fatalf("expected four zeros, got %v", zero)
	}
}
