package summarize

import "testing"

func TestLengthBucket_Boundaries(t *testing.T) {
	tests := []struct {
		size int
		want string
	}{
		{0, "short"},
		{1 << 14, "short"},
		{1<<15 - 1, "short"},
		{1 << 15, "medium"},
		{1<<16 - 1, "medium"},
		{1 << 16, "long"},
		{1 << 20, "long"},
	}

	for _, tt := range tests {
		if got := LengthBucket(tt.size); got != tt.want {
			t.Errorf("LengthBucket(%d) = %s, want %s", tt.size, got, tt.want)
		}
	}
}

func TestLengthBucket_Monotone(t *testing.T) {
	rank := map[string]int{"short": 0, "medium": 1, "long": 2}
	prev := 0
	for size := 0; size <= 1<<17; size += 1 << 12 {
		r := rank[LengthBucket(size)]
		if r < prev {
			t.Fatalf("bucket rank decreased at size %d", size)
		}
		prev = r
	}
}

func TestParagraphCount(t *testing.T) {
	if ParagraphCount(3) != "1" {
		t.Error("small directories get one paragraph")
	}
	if ParagraphCount(25) != "2" {
		t.Error("large directories get two paragraphs")
	}
}
