package subscription

import (
	"testing"

	"sigscan/internal/market"
)

func topic(sym string) TopicKey {
	return KlineTopic(market.NewKey(market.Bybit, sym, market.TF15m))
}

// go test -v --run TestSubscribeIdempotentPerUser
func TestSubscribeIdempotentPerUser(t *testing.T) {
	r := NewRegistry()
	key := topic("BTCUSDT")

	firstUser, added := r.Subscribe(key, 1)
	if !firstUser || !added {
		t.Fatalf("first subscribe = (%v, %v), want (true, true)", firstUser, added)
	}

	// Repeated enable for the same user must not grow the refcount.
	for i := 0; i < 5; i++ {
		firstUser, added = r.Subscribe(key, 1)
		if firstUser || added {
			t.Fatalf("repeat subscribe = (%v, %v), want (false, false)", firstUser, added)
		}
	}
	if got := r.Refcount(key); got != 1 {
		t.Fatalf("refcount = %d, want 1", got)
	}

	if _, added = r.Subscribe(key, 2); !added {
		t.Fatal("second user not added")
	}
	if got := r.Refcount(key); got != 2 {
		t.Fatalf("refcount = %d, want 2", got)
	}
}

// go test -v --run TestUnsubscribeDeletesEmptyEntry
func TestUnsubscribeDeletesEmptyEntry(t *testing.T) {
	r := NewRegistry()
	key := topic("ETHUSDT")
	r.Subscribe(key, 1)
	r.Subscribe(key, 2)

	if last := r.Unsubscribe(key, 1); last {
		t.Fatal("entry reported empty while user 2 remains")
	}
	if last := r.Unsubscribe(key, 2); !last {
		t.Fatal("entry not reported empty after last user left")
	}
	if got := r.Len(); got != 0 {
		t.Fatalf("registry entries = %d, want 0", got)
	}

	// Disable on a missing entry is a no-op.
	if last := r.Unsubscribe(key, 2); last {
		t.Fatal("unsubscribe on missing entry reported lastUser")
	}
}

// go test -v --run TestKeysForUser
func TestKeysForUser(t *testing.T) {
	r := NewRegistry()
	a, b := topic("BTCUSDT"), topic("ETHUSDT")
	r.Subscribe(a, 1)
	r.Subscribe(b, 1)
	r.Subscribe(b, 2)

	keys := r.KeysForUser(1)
	if len(keys) != 2 {
		t.Fatalf("user 1 keys = %d, want 2", len(keys))
	}
	keys = r.KeysForUser(2)
	if len(keys) != 1 || keys[0] != b {
		t.Fatalf("user 2 keys = %v, want [%v]", keys, b)
	}
	if keys = r.KeysForUser(99); len(keys) != 0 {
		t.Fatalf("unknown user keys = %v, want none", keys)
	}
}

// go test -v --run TestUsersFor
func TestUsersFor(t *testing.T) {
	r := NewRegistry()
	key := topic("BTCUSDT")
	r.Subscribe(key, 1)
	r.Subscribe(key, 2)
	r.Subscribe(topic("ETHUSDT"), 3)

	users := r.UsersFor(key)
	if len(users) != 2 {
		t.Fatalf("users = %v, want 2 subscribers", users)
	}
	seen := map[UserID]bool{}
	for _, u := range users {
		seen[u] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("users = %v, want {1, 2}", users)
	}
	if got := r.UsersFor(topic("NONEUSDT")); len(got) != 0 {
		t.Fatalf("unknown key users = %v, want none", got)
	}
}

// go test -v --run TestActiveKlineKeys
func TestActiveKlineKeys(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(topic("BTCUSDT"), 1)
	r.Subscribe(topic("ETHUSDT"), 1)

	keys := r.ActiveKlineKeys()
	if len(keys) != 2 {
		t.Fatalf("active keys = %d, want 2", len(keys))
	}
	for _, k := range keys {
		if k.Exchange != market.Bybit || k.Timeframe != market.TF15m {
			t.Fatalf("unexpected active key %v", k)
		}
	}
}
