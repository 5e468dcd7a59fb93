package tokens

import "testing"

func TestCountEmptyIsZero(t *testing.T) {
	c := NewCounter()
	if got := c.Count(""); got != 0 {
		t.Fatalf("Count(\"\") = %d, want 0", got)
	}
}

func TestCountIsPositiveAndMonotonicForLongerText(t *testing.T) {
	c := NewCounter()
	short := c.Count("hello")
	long := c.Count("hello there, this is a considerably longer message about invoices")
	if short < 1 {
		t.Fatalf("Count(short) = %d, want >= 1", short)
	}
	if long <= short {
		t.Fatalf("Count(long) = %d, not greater than short = %d", long, short)
	}
}

func TestCountIsStable(t *testing.T) {
	c := NewCounter()
	first := c.Count("the same text every time")
	for i := 0; i < 5; i++ {
		if got := c.Count("the same text every time"); got != first {
			t.Fatalf("Count changed between calls: %d vs %d", got, first)
		}
	}
}

func TestHeuristicFallback(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"ab", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
	}
	for _, tc := range cases {
		if got := heuristic(tc.in); got != tc.want {
			t.Fatalf("heuristic(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
