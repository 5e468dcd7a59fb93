package fault

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestWrappersPreserveSentinel(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{Validationf("bad role %q", "narrator"), ErrValidation},
		{Corruptionf("session %s", "s-1"), ErrCorruption},
		{Unavailablef("embedding down after %d attempts", 3), ErrUnavailable},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.sentinel) {
			t.Fatalf("%v does not wrap %v", tc.err, tc.sentinel)
		}
		// Context survives in the message.
		if tc.err.Error() == tc.sentinel.Error() {
			t.Fatalf("wrapper lost its context: %v", tc.err)
		}
	}
}

func TestFromWriteErrorClassifiesENOSPC(t *testing.T) {
	err := FromWriteError("write session record", fmt.Errorf("sync: %w", syscall.ENOSPC))
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("ENOSPC not classified as capacity: %v", err)
	}

	plain := FromWriteError("write session record", errors.New("permission denied"))
	if errors.Is(plain, ErrCapacity) {
		t.Fatalf("non-ENOSPC classified as capacity: %v", plain)
	}
	if plain == nil {
		t.Fatalf("error swallowed")
	}

	if FromWriteError("noop", nil) != nil {
		t.Fatalf("nil error not passed through")
	}
}
