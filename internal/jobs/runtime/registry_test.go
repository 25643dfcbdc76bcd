package runtime

import "testing"

type namedHandler string

func (h namedHandler) Type() string           { return string(h) }
func (h namedHandler) Run(ctx *Context) error { return nil }

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []string{"stale_reap", "content_score", "feature_aggregate"} {
		if err := r.Register(namedHandler(typ)); err != nil {
			t.Fatalf("Register(%s): %v", typ, err)
		}
	}
	got := r.Types()
	want := []string{"content_score", "feature_aggregate", "stale_reap"}
	if len(got) != len(want) {
		t.Fatalf("Types()=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Types()=%v want %v", got, want)
		}
	}
}

func TestRegistryRejectsDuplicatesAndEmpty(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(namedHandler("content_score")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(namedHandler("content_score")); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := r.Register(namedHandler("")); err == nil {
		t.Fatalf("expected empty job type to fail")
	}
	if err := r.Register(nil); err == nil {
		t.Fatalf("expected nil handler to fail")
	}
	if _, ok := r.Get("content_score"); !ok {
		t.Fatalf("registered handler not found")
	}
}
