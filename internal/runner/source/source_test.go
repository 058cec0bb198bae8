package source

import (
	"bufio"
	"strings"
	"testing"
)

func TestSourceNext(t *testing.T) {
	s := New(bufio.NewScanner(strings.NewReader("a\nb\nc\n")))

	for _, want := range []string{"a", "b", "c"} {
		got, ok := s.Next()
		if !ok {
			t.Fatalf("expected a line, got none")
		}
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}

	if _, ok := s.Next(); ok {
		t.Fatal("expected exhaustion")
	}
}

func TestSourcePushBack(t *testing.T) {
	s := New(bufio.NewScanner(strings.NewReader("a\nb\n")))

	first, ok := s.Next()
	if !ok || first != "a" {
		t.Fatalf("unexpected first line: %q, %v", first, ok)
	}

	s.PushBack(first)

	got, ok := s.Next()
	if !ok || got != "a" {
		t.Fatalf("expected pushed-back line to be delivered first, got %q, %v", got, ok)
	}

	got, ok = s.Next()
	if !ok || got != "b" {
		t.Fatalf("got %q, want %q", got, "b")
	}

	if _, ok := s.Next(); ok {
		t.Fatal("expected exhaustion")
	}
}

func TestSourceErr(t *testing.T) {
	s := New(bufio.NewScanner(strings.NewReader("")))
	if _, ok := s.Next(); ok {
		t.Fatal("expected no lines from empty reader")
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
