package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock("14:55")
	if err != nil {
		t.Fatalf("ParseClock: %v", err)
	}
	if c != NewClock(14, 55) || c.String() != "14:55" {
		t.Fatalf("ParseClock = %v", c)
	}
	if _, err := ParseClock("24:61"); err == nil {
		t.Fatal("expected error for invalid clock")
	}

	ref := time.Date(2026, 10, 15, 9, 30, 12, 0, IndiaLocation)
	want := time.Date(2026, 10, 15, 14, 55, 0, 0, IndiaLocation)
	if got := c.On(ref); !got.Equal(want) {
		t.Fatalf("On = %v, want %v", got, want)
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{Start: MustClock("10:00"), End: MustClock("15:15")}
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, IndiaLocation)

	tests := []struct {
		at   time.Time
		want bool
	}{
		{day.Add(9*time.Hour + 59*time.Minute), false},
		{day.Add(10 * time.Hour), true},
		{day.Add(15*time.Hour + 14*time.Minute + 59*time.Second), true},
		{day.Add(15*time.Hour + 15*time.Minute), false},
	}
	for _, tt := range tests {
		if got := w.Contains(tt.at); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.at.Format("15:04:05"), got, tt.want)
		}
	}
}

func TestRetryWithResult(t *testing.T) {
	calls, hooks := 0, 0
	cfg := RetryConfig{
		MaxAttempts: 2,
		OnRetry: func(ctx context.Context, attempt int, err error) {
			hooks++
		},
	}
	_, err := RetryWithResult(context.Background(), cfg, func() (string, error) {
		calls++
		return "", errors.New("boom")
	})
	if err == nil || calls != 2 || hooks != 1 {
		t.Fatalf("err=%v calls=%d hooks=%d, want error after 2 calls and 1 hook", err, calls, hooks)
	}

	calls = 0
	got, err := RetryWithResult(context.Background(), cfg, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RetryWithResult(ctx, RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func() (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice("1234567.5"); got != "₹12,34,567.50" {
		t.Fatalf("FormatPrice = %q", got)
	}
	if got := FormatPrice("2480.1x"); got != "2480.1x" {
		t.Fatalf("FormatPrice junk = %q", got)
	}
	if got := FormatPrice(""); got != "-" {
		t.Fatalf("FormatPrice blank = %q", got)
	}
}
