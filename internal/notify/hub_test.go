package notify

import "testing"

func TestHubFansOutInOrder(t *testing.T) {
	var h Hub[int]
	var got []string
	h.Subscribe(func(v int) { got = append(got, "a") })
	h.Subscribe(func(v int) { got = append(got, "b") })
	h.Emit(1)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected delivery order %v", got)
	}
}

func TestHubUnsubscribeDuringEmit(t *testing.T) {
	var h Hub[int]
	calls := 0
	var unsub func()
	unsub = h.Subscribe(func(int) {
		calls++
		unsub()
	})
	h.Emit(1)
	h.Emit(2)
	if calls != 1 {
		t.Fatalf("expected one call after self-unsubscribe, got %d", calls)
	}
	unsub()
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Len())
	}
}
