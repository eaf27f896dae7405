package stream

import (
	"errors"
	"testing"
)

func TestSeqYieldsValuesInOrder(t *testing.T) {
	s := New[int](4)
	go func() {
		s.Send(1)
		s.Send(2)
		s.Send(3)
		s.Close()
	}()

	var got []int
	for v, err := range s.Seq() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", got)
	}
}

func TestSeqStopsAtTerminalError(t *testing.T) {
	boom := errors.New("boom")
	s := New[string](4)
	go func() {
		s.Send("a")
		s.Fail(boom)
	}()

	var got []string
	var finalErr error
	for v, err := range s.Seq() {
		if err != nil {
			finalErr = err
			break
		}
		got = append(got, v)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v, want [a]", got)
	}
	if !errors.Is(finalErr, boom) {
		t.Fatalf("finalErr = %v, want %v", finalErr, boom)
	}
}

func TestSeqIsAbandonableEarly(t *testing.T) {
	s := New[int](8)
	go func() {
		for i := 0; i < 8; i++ {
			s.Send(i)
		}
		s.Close()
	}()

	count := 0
	for range s.Seq() {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}
