package threads

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		kind int
		want Kind
	}{
		{"thread root", 11, KindThreadRoot},
		{"reply", 1111, KindReply},
		{"reaction", 7, KindReaction},
		{"profile", 0, KindProfile},
		{"stat", 30078, KindStat},
		{"plain note", 1, KindUnknown},
		{"negative", -5, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KindOf(&nostr.Event{Kind: tt.kind})
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindThreadRoot, KindReply, KindReaction, KindProfile, KindStat} {
		if got := KindOf(&nostr.Event{Kind: k.Num()}); got != k {
			t.Errorf("Expected %s to round-trip through its wire number, got %s", k, got)
		}
	}
}

func TestKindUnknownNum(t *testing.T) {
	if KindUnknown.Num() != -1 {
		t.Errorf("Expected -1 for unknown kind number, got %d", KindUnknown.Num())
	}
}

func TestThreadKindNums(t *testing.T) {
	nums := ThreadKindNums()
	want := map[int]bool{11: true, 1111: true, 7: true, 30078: true}
	if len(nums) != len(want) {
		t.Fatalf("Expected %d thread kinds, got %d", len(want), len(nums))
	}
	for _, n := range nums {
		if !want[n] {
			t.Errorf("Unexpected thread kind %d", n)
		}
	}
}
