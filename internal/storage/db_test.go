package storage

import "testing"

func TestChunkEvenSplit(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6}
	batches := chunk(items, 2)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for _, b := range batches {
		if len(b) != 2 {
			t.Fatalf("expected batch size 2, got %d", len(b))
		}
	}
}

func TestChunkRemainder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	batches := chunk(items, 2)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[2]) != 1 {
		t.Fatalf("expected final batch size 1, got %d", len(batches[2]))
	}
}

func TestChunkEmpty(t *testing.T) {
	if batches := chunk([]int{}, 2); len(batches) != 0 {
		t.Fatalf("expected no batches for empty input, got %d", len(batches))
	}
}

func TestChunkLargerThanInput(t *testing.T) {
	items := []int{1, 2, 3}
	batches := chunk(items, 100)
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("expected a single batch containing all items, got %+v", batches)
	}
}
