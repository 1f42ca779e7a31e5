package timeframe

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"1m", false},
		{"15m", false},
		{"4h", false},
		{"1d", false},
		{"1w", false},
		{"3M", false},
		{"", true},
		{"m", true},
		{"0m", true},
		{"-1h", true},
		{"1x", true},
	}
	for _, c := range cases {
		_, err := Parse(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("Parse(%q) err=%v, wantErr=%v", c.in, err, c.wantErr)
		}
	}
}

func TestApproxDurationAndAddTo(t *testing.T) {
	tf := MustParse("1M")
	if tf.ApproxDuration() != 30*24*time.Hour {
		t.Errorf("ApproxDuration = %v, want 30 days", tf.ApproxDuration())
	}
	jan31 := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	got := tf.AddTo(jan31)
	want := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("AddTo calendar month = %v, want %v", got, want)
	}
}

func TestLess(t *testing.T) {
	m1 := MustParse("1m")
	h1 := MustParse("1h")
	if !m1.Less(h1) {
		t.Error("1m should be less (finer) than 1h")
	}
	mo := MustParse("1M")
	if !h1.Less(mo) {
		t.Error("1h should be less (finer) than 1M")
	}
	if mo.Less(h1) {
		t.Error("1M should not be less than 1h")
	}
}
