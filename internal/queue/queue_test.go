package queue

import (
	"testing"
	"time"
)

func TestPutGetFIFO(t *testing.T) {
	q := New[int](4)
	q.Put(1)
	q.Put(2)
	q.Put(3)

	for _, want := range []int{1, 2, 3} {
		got, err := q.Get(10 * time.Millisecond)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != want {
			t.Fatalf("Get() = %d, want %d", got, want)
		}
	}
}

func TestPutDropsOldestWhenFull(t *testing.T) {
	q := New[int](2)
	q.Put(1)
	q.Put(2)
	q.Put(3) // should evict 1

	got, _ := q.Get(10 * time.Millisecond)
	if got != 2 {
		t.Fatalf("Get() = %d, want 2 (oldest dropped)", got)
	}
	got, _ = q.Get(10 * time.Millisecond)
	if got != 3 {
		t.Fatalf("Get() = %d, want 3", got)
	}
}

func TestGetTimesOutWhenEmpty(t *testing.T) {
	q := New[int](2)
	_, err := q.Get(5 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("Get() error = %v, want ErrTimeout", err)
	}
}

func TestClear(t *testing.T) {
	q := New[int](4)
	q.Put(1)
	q.Put(2)
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", q.Len())
	}
	_, err := q.Get(5 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("Get() after Clear error = %v, want ErrTimeout", err)
	}
}
