package events

import "testing"

func TestHub_PublishReachesAllListeners(t *testing.T) {
	var h Hub[int]
	var a, b []int

	h.Subscribe(func(v int) { a = append(a, v) })
	h.Subscribe(func(v int) { b = append(b, v) })

	h.Publish(1)
	h.Publish(2)

	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("listener call counts = %d, %d, want 2, 2", len(a), len(b))
	}
	if a[0] != 1 || a[1] != 2 {
		t.Fatalf("a = %v, want [1 2]", a)
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	var h Hub[string]
	var got []string

	unsub := h.Subscribe(func(v string) { got = append(got, v) })
	h.Publish("one")
	unsub()
	h.Publish("two")

	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("got = %v, want [one]", got)
	}
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	var h Hub[int]
	unsubA := h.Subscribe(func(int) {})
	h.Subscribe(func(int) {})

	unsubA()
	unsubA()

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after double unsubscribe", h.Len())
	}
}

func TestHub_SubscriptionOrder(t *testing.T) {
	var h Hub[int]
	var order []string

	h.Subscribe(func(int) { order = append(order, "first") })
	h.Subscribe(func(int) { order = append(order, "second") })
	h.Publish(0)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v, want [first second]", order)
	}
}
