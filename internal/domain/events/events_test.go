package events

import (
	"encoding/json"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"proof_submitted", false},
		{"verification_complete", false},
		{"chain_step_added", false},
		{"stream_created", false},
		{"agent_registered", false},
		{"task_delegated", false},
		{"operad_completed", false},
		{"bogus", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestNew_PopulatesIdentityAndTime(t *testing.T) {
	a := New(KindProofSubmitted, "s1", nil)
	b := New(KindProofSubmitted, "s1", nil)

	if a.ID == "" || b.ID == "" {
		t.Fatal("event id not set")
	}
	if a.ID == b.ID {
		t.Error("event ids should be unique")
	}
	if a.Timestamp == 0 {
		t.Error("timestamp not set")
	}
	if a.Data == nil {
		t.Error("nil data should be normalized to an empty map")
	}
}

func TestAgent_FallsBackToSubmitter(t *testing.T) {
	e := New(KindProofSubmitted, "s1", map[string]any{"submitter": "agent-2"})
	if e.Agent() != "agent-2" {
		t.Errorf("Agent() = %q, want agent-2", e.Agent())
	}

	e = New(KindProofSubmitted, "s1", map[string]any{
		"agent":     "agent-1",
		"submitter": "agent-2",
	})
	if e.Agent() != "agent-1" {
		t.Errorf("Agent() = %q, want agent-1", e.Agent())
	}
}

func TestQualityScore_Default(t *testing.T) {
	e := New(KindProofSubmitted, "s1", nil)
	if e.QualityScore() != 0 {
		t.Errorf("QualityScore() = %f, want 0", e.QualityScore())
	}

	e = New(KindProofSubmitted, "s1", map[string]any{"quality_score": 0.75})
	if e.QualityScore() != 0.75 {
		t.Errorf("QualityScore() = %f, want 0.75", e.QualityScore())
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint([]byte(`{"proof":"sample"}`))
	if len(fp) != FingerprintLen {
		t.Errorf("fingerprint length = %d, want %d", len(fp), FingerprintLen)
	}
	if fp != Fingerprint([]byte(`{"proof":"sample"}`)) {
		t.Error("fingerprint should be deterministic")
	}
	if fp == Fingerprint([]byte(`{"proof":"other"}`)) {
		t.Error("different payloads should produce different fingerprints")
	}
}

func TestNewProofSubmitted(t *testing.T) {
	e := NewProofSubmitted("s1", "client-1", "abc123", "def456", "RWKV")

	if e.Kind != KindProofSubmitted {
		t.Errorf("Kind = %s", e.Kind)
	}
	if e.StreamID != "s1" {
		t.Errorf("StreamID = %s", e.StreamID)
	}
	if e.Agent() != "client-1" {
		t.Errorf("Agent() = %s", e.Agent())
	}
	if e.Architecture() != "RWKV" {
		t.Errorf("Architecture() = %s", e.Architecture())
	}
	if e.Data["proof_hash"] != "abc123" {
		t.Errorf("proof_hash = %v", e.Data["proof_hash"])
	}
}

func TestNewVerificationComplete_GlobalStream(t *testing.T) {
	e := NewVerificationComplete("agent-1", "receipt", "Mamba", 21000)

	if e.StreamID != GlobalStreamID {
		t.Errorf("StreamID = %s, want %s", e.StreamID, GlobalStreamID)
	}
	if e.Data["verified"] != true {
		t.Error("verification events must carry verified=true")
	}
}

func TestStreamEvent_JSONShape(t *testing.T) {
	e := NewChainStepAdded("chain-9", 4, "agent-1", "RWKV")

	raw, err := e.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if decoded["event_type"] != "chain_step_added" {
		t.Errorf("event_type = %v", decoded["event_type"])
	}
	if decoded["stream_id"] != GlobalStreamID {
		t.Errorf("stream_id = %v", decoded["stream_id"])
	}
	if _, ok := decoded["timestamp"].(float64); !ok {
		t.Error("timestamp should serialize as a number")
	}
	if _, ok := decoded["metadata"]; ok {
		t.Error("empty metadata should be omitted")
	}
}
