package scoring

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBrierScore_BoundaryCases(t *testing.T) {
	cases := []struct {
		probability float64
		occurred    bool
		want        float64
	}{
		{0.9, true, 0.01},
		{0.9, false, 0.81},
		{0.5, true, 0.25},
		{0.5, false, 0.25},
		{0.72, true, 0.0784},
		{0.3, false, 0.09},
		{0.3, true, 0.49},
	}

	for _, tc := range cases {
		got := BrierScore(decimal.NewFromFloat(tc.probability), tc.occurred)
		want := decimal.NewFromFloat(tc.want)
		if !got.Equal(want) {
			t.Errorf("BrierScore(%v, %v) = %s, want %s", tc.probability, tc.occurred, got, want)
		}
	}
}

func TestBrierScore_DirectionRelative(t *testing.T) {
	// Backing NO at 0.3 confidence is not the same forecast as backing
	// YES at 0.3: the probability is always relative to the chosen side.
	noSide := BrierScore(decimal.NewFromFloat(0.3), false)
	if !noSide.Equal(decimal.NewFromFloat(0.09)) {
		t.Errorf("NO-side miss = %s, want 0.09", noSide)
	}
	yesSide := BrierScore(decimal.NewFromFloat(0.3), true)
	if !yesSide.Equal(decimal.NewFromFloat(0.49)) {
		t.Errorf("YES-side hit = %s, want 0.49", yesSide)
	}
}

func TestBrierScore_Range(t *testing.T) {
	one := decimal.NewFromInt(1)
	for p := 1; p < 100; p++ {
		prob := decimal.NewFromInt(int64(p)).Div(decimal.NewFromInt(100))
		for _, occurred := range []bool{true, false} {
			score := BrierScore(prob, occurred)
			if score.IsNegative() || score.GreaterThan(one) {
				t.Fatalf("BrierScore(%s, %v) = %s out of [0,1]", prob, occurred, score)
			}
		}
	}
}

func TestInterpret_Bands(t *testing.T) {
	cases := []struct {
		score float64
		want  Band
	}{
		{0.0, BandExcellent},
		{0.01, BandExcellent},
		{0.0999, BandExcellent},
		{0.10, BandGood},
		{0.24, BandGood},
		{0.25, BandFair},
		{0.49, BandFair},
		{0.50, BandPoor},
		{0.81, BandPoor},
		{1.0, BandPoor},
	}

	for _, tc := range cases {
		got := Interpret(decimal.NewFromFloat(tc.score))
		if got != tc.want {
			t.Errorf("Interpret(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestInterpret_Monotone(t *testing.T) {
	thresholds := DefaultThresholds()
	prev := BandExcellent
	for i := 0; i <= 1000; i++ {
		score := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(1000))
		band := thresholds.Interpret(score)
		if band < prev {
			t.Fatalf("band improved as score worsened: score %s is %s, previous %s", score, band, prev)
		}
		prev = band
	}
}

func TestInterpret_Stable(t *testing.T) {
	score := decimal.NewFromFloat(0.1337)
	first := Interpret(score)
	for i := 0; i < 10; i++ {
		if Interpret(score) != first {
			t.Fatal("Interpret is not stable for a fixed score")
		}
	}
}

func TestBand_String(t *testing.T) {
	if BandExcellent.String() != "EXCELLENT" || BandPoor.String() != "POOR" {
		t.Error("unexpected band names")
	}
	if Band(42).String() != "UNKNOWN" {
		t.Error("out-of-range band should be UNKNOWN")
	}
}
