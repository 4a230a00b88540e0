package cache

import (
	"testing"
	"time"
)

func TestRewrittenPages_SetThenGet(t *testing.T) {
	c := NewRewrittenPages()
	key := Key([]byte("raw payload"))

	c.Set(key, []byte("rewritten"), time.Minute)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != "rewritten" {
		t.Errorf("got %q", got)
	}
}

func TestRewrittenPages_MissForUnknownKey(t *testing.T) {
	c := NewRewrittenPages()
	if _, ok := c.Get(Key([]byte("never seen"))); ok {
		t.Error("expected miss")
	}
}

func TestRewrittenPages_ExpiresAfterTTL(t *testing.T) {
	c := NewRewrittenPages()
	key := Key([]byte("raw payload"))
	c.Set(key, []byte("rewritten"), -time.Second)

	if _, ok := c.Get(key); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestKey_SameInputSameKey(t *testing.T) {
	a := Key([]byte("same bytes"))
	b := Key([]byte("same bytes"))
	if a != b {
		t.Error("expected deterministic key for identical payload")
	}
}
