package model

import (
	"encoding/json"
	"testing"
)

func TestParseEnum(t *testing.T) {
	tests := []struct {
		raw     string
		want    BalanceAlgorithm
		wantErr bool
	}{
		{raw: "roundrobin", want: AlgorithmRoundRobin},
		{raw: "ROUNDROBIN", want: AlgorithmRoundRobin},
		{raw: "STATIC_RR", want: AlgorithmStaticRR},
		{raw: "url-param", want: AlgorithmURLParam},
		{raw: " leastconn ", want: AlgorithmLeastConn},
		{raw: "weighted", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw, BalanceAlgorithms())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEnumUnmarshalKeepsUnknownTokens(t *testing.T) {
	var s struct {
		Mode Optional[ProxyMode] `json:"mode"`
		Alg  BalanceAlgorithm    `json:"algorithm"`
	}
	if err := json.Unmarshal([]byte(`{"mode":"HTTP","algorithm":"future-algo"}`), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got, _ := s.Mode.Get(); got != ModeHTTP {
		t.Errorf("mode = %q, want http", got)
	}
	if s.Alg != "future-algo" {
		t.Errorf("algorithm = %q, want the remote token kept verbatim", s.Alg)
	}
	if s.Alg.IsValid() {
		t.Error("unknown token should not be valid")
	}
}

func TestKindCollection(t *testing.T) {
	if got := KindServer.Collection(); got != "servers" {
		t.Errorf("Collection() = %q", got)
	}
	var k Kind
	if err := k.UnmarshalText([]byte("listener")); err == nil {
		t.Error("unknown kind should be rejected")
	}
	if err := k.UnmarshalText([]byte("Frontend")); err != nil || k != KindFrontend {
		t.Errorf("UnmarshalText(Frontend) = %q, %v", k, err)
	}
}
