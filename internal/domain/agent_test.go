package domain

import (
	"errors"
	"testing"
)

func TestParseAgentRef(t *testing.T) {
	tests := []struct {
		in   string
		want AgentRef
	}{
		{"local:judge", AgentRef{ID: "local", Role: "judge"}},
		{"bob", AgentRef{ID: "bob"}},
		{" alice : advocate ", AgentRef{ID: "alice", Role: "advocate"}},
		{":writer", AgentRef{ID: "", Role: "writer"}},
	}
	for _, tt := range tests {
		got := ParseAgentRef(tt.in)
		if got != tt.want {
			t.Errorf("ParseAgentRef(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestAgentRefIsLocal(t *testing.T) {
	if !(AgentRef{}).IsLocal() {
		t.Error("empty ref should be local")
	}
	if !(AgentRef{ID: LocalAgentID}).IsLocal() {
		t.Error("local ref should be local")
	}
	if (AgentRef{ID: "bob"}).IsLocal() {
		t.Error("bob should be remote")
	}
	if got := (AgentRef{Role: "judge"}).String(); got != "local:judge" {
		t.Errorf("String() = %q", got)
	}
}

func TestAgentRecordLabel(t *testing.T) {
	if got := (AgentRecord{ID: "a1"}).Label(); got != "a1" {
		t.Errorf("Label = %q, want id fallback", got)
	}
	if got := (AgentRecord{ID: "a1", Name: "Weather"}).Label(); got != "Weather" {
		t.Errorf("Label = %q", got)
	}
	if (AgentRecord{Description: "  "}).Described() {
		t.Error("blank description should not count")
	}
}

func TestMessageWithTextIsCopy(t *testing.T) {
	orig := NewTextMessage(RoleUser, "@bob hi", "c1")
	clean := orig.WithText("hi")
	if orig.Text() != "@bob hi" {
		t.Errorf("original mutated: %q", orig.Text())
	}
	if clean.Text() != "hi" || clean.ConversationID != "c1" {
		t.Errorf("copy = %+v", clean)
	}
}

func TestMessageValidate(t *testing.T) {
	if err := NewTextMessage(RoleUser, "hello", "").Validate(); err != nil {
		t.Errorf("valid message: %v", err)
	}
	err := NewTextMessage(RoleUser, "   ", "").Validate()
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty text: got %v", err)
	}
	m := Message{Content: Content{Text: "x", Type: "image"}}
	if !errors.Is(m.Validate(), ErrInvalidInput) {
		t.Error("unknown content type should be rejected")
	}
}
