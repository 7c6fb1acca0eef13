package toolinvoker

import "testing"

func TestTrimStderrLeavesShortStringsUntouched(t *testing.T) {
	if got := TrimStderr("short", 10); got != "short" {
		t.Fatalf("TrimStderr = %q, want %q", got, "short")
	}
}

func TestTrimStderrKeepsOnlyTheTail(t *testing.T) {
	s := "0123456789"
	if got := TrimStderr(s, 4); got != "6789" {
		t.Fatalf("TrimStderr(%q, 4) = %q, want %q", s, got, "6789")
	}
}

func TestRingBufferRetainsOnlyLastNBytes(t *testing.T) {
	rb := newRingBuffer(4)
	if _, err := rb.Write([]byte("abcdef")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := rb.String(); got != "cdef" {
		t.Fatalf("String() = %q, want %q", got, "cdef")
	}
}

func TestRingBufferAccumulatesAcrossWrites(t *testing.T) {
	rb := newRingBuffer(5)
	rb.Write([]byte("ab"))
	rb.Write([]byte("cd"))
	if got := rb.String(); got != "abcd" {
		t.Fatalf("String() = %q, want %q", got, "abcd")
	}
	rb.Write([]byte("ef"))
	if got := rb.String(); got != "bcdef" {
		t.Fatalf("String() = %q, want %q", got, "bcdef")
	}
}
