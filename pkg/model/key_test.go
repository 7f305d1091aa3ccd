package model

import "testing"

func TestKeyString(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{BackendKey("b1"), "backend/b1"},
		{FrontendKey("fe"), "frontend/fe"},
		{ServerKey(KindBackend, "b1", "s1"), "backend/b1/server/s1"},
	}
	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		parsed, err := ParseKey(tt.want)
		if err != nil {
			t.Fatalf("ParseKey(%q) failed: %v", tt.want, err)
		}
		if parsed.String() != tt.want {
			t.Errorf("ParseKey(%q) = %q", tt.want, parsed.String())
		}
	}
}

func TestKeyValidate(t *testing.T) {
	bad := []Key{
		{Kind: KindServer, Name: "s1"},
		{Kind: KindServer, Name: "s1", Parent: &ParentRef{Kind: KindServer, Name: "x"}},
		{Kind: KindBackend, Name: "b1", Parent: &ParentRef{Kind: KindFrontend, Name: "f"}},
		{Kind: KindBackend},
		{Kind: "listener", Name: "l"},
	}
	for _, k := range bad {
		if err := k.Validate(); err == nil {
			t.Errorf("Validate(%+v) expected error", k)
		}
	}

	// Same server name under different parents is a different identity.
	a := ServerKey(KindBackend, "b1", "s1")
	b := ServerKey(KindFrontend, "b1", "s1")
	if a.String() == b.String() {
		t.Error("keys with different parent kinds should differ")
	}
}
