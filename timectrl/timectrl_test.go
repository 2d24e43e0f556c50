package timectrl

import (
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	tc := NewTimeController(time.Second, RealTime, 1)

	tc.SetTime(42 * time.Second)

	if got := tc.Now(); got != 42*time.Second {
		t.Fatalf("Now() = %v, want 42s", got)
	}
}

func TestTimeControllerAdvanceNotifiesListeners(t *testing.T) {
	tc := NewTimeController(5*time.Millisecond, Accelerated, 1)

	var seen []time.Duration
	tc.AddListener(func(d time.Duration) { seen = append(seen, d) })

	for _, d := range []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 15 * time.Millisecond} {
		tc.Advance(d)
	}
	tc.Advance(time.Millisecond) // backwards, ignored

	if got := tc.Now(); got != 15*time.Millisecond {
		t.Fatalf("Now() = %v, want 15ms", got)
	}
	if len(seen) != 3 {
		t.Fatalf("listener called %d times, want 3", len(seen))
	}
}

func TestTimeControllerRealTimePacing(t *testing.T) {
	tc := NewTimeController(time.Second, RealTime, 2)

	wall := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	var slept []time.Duration
	tc.wall = func() time.Time { return wall }
	tc.sleep = func(d time.Duration) {
		slept = append(slept, d)
		wall = wall.Add(d)
	}

	tc.Advance(0)
	tc.Advance(2 * time.Second)
	tc.Advance(4 * time.Second)

	want := []time.Duration{time.Second, time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("slept[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestTimeControllerAcceleratedDoesNotSleep(t *testing.T) {
	tc := NewTimeController(time.Second, Accelerated, 1)
	tc.sleep = func(time.Duration) { t.Fatalf("accelerated mode must not sleep") }

	tc.Advance(10 * time.Second)
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"realtime":    RealTime,
		"real-time":   RealTime,
		"accelerated": Accelerated,
		"":            Accelerated,
	}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Fatalf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
}
