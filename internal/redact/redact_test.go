package redact

import (
	"strings"
	"testing"
)

func TestScanFindsReplyData(t *testing.T) {
	text := "I'm visiting, mail me at bob@example.net or call +1 415-555-0134, the code is 4821."
	matches := Scan(text, nil, nil)

	found := make(map[PatternType]string)
	for _, m := range matches {
		found[m.Type] = m.Value
	}
	if found[PatternEmail] != "bob@example.net" {
		t.Errorf("expected email match, got %q", found[PatternEmail])
	}
	if found[PatternPhone] != "+1 415-555-0134" {
		t.Errorf("expected phone match, got %q", found[PatternPhone])
	}
	if found[PatternCode] != "4821" {
		t.Errorf("expected code match, got %q", found[PatternCode])
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Start < matches[i-1].Start {
			t.Fatal("matches not sorted by position")
		}
	}
}

func TestScanCardRequiresLuhn(t *testing.T) {
	valid := Scan("card 4111 1111 1111 1111 please", nil, nil)
	if len(valid) == 0 || valid[0].Type != PatternCard {
		t.Fatalf("expected card match, got %+v", valid)
	}
	for _, m := range Scan("ticket 4111 1111 1111 1112", nil, nil) {
		if m.Type == PatternCard {
			t.Errorf("expected no card match for failing checksum, got %q", m.Value)
		}
	}
}

func TestScanIgnoresPlainSpeech(t *testing.T) {
	if m := Scan("sorry, wrong room, I'm leaving now", nil, nil); len(m) != 0 {
		t.Errorf("expected no matches, got %+v", m)
	}
}

func TestRedactAndDetoken(t *testing.T) {
	r, err := New(Config{Literals: []string{"Alice"}})
	if err != nil {
		t.Fatal(err)
	}
	tm := NewTokenMap()
	text := "Alice said to email alice@home.org, ask Alice"
	out := r.Redact(text, tm)

	if strings.Contains(out, "alice@home.org") || strings.Contains(out, "Alice") {
		t.Errorf("sensitive values left in %q", out)
	}
	if !strings.Contains(out, "<<EMAIL_1>>") || !strings.Contains(out, "<<NAME_1>>") {
		t.Errorf("expected tokens in %q", out)
	}
	if back := Detoken(out, tm); back != text {
		t.Errorf("expected round trip %q, got %q", text, back)
	}
}

func TestTokenIsStable(t *testing.T) {
	tm := NewTokenMap()
	a := tm.Token(PatternPhone, "555-0100")
	b := tm.Token(PatternPhone, "555-0100")
	c := tm.Token(PatternPhone, "555-0199")
	if a != b {
		t.Errorf("expected same token, got %s and %s", a, b)
	}
	if c != "<<PHONE_2>>" {
		t.Errorf("expected <<PHONE_2>>, got %s", c)
	}
	if tm.Len() != 2 {
		t.Errorf("expected 2 mappings, got %d", tm.Len())
	}
}

func TestExtraPatterns(t *testing.T) {
	r, err := New(Config{ExtraPatterns: []ExtraPatternDef{{Name: "badge", Regex: `B-\d{4}`}}})
	if err != nil {
		t.Fatal(err)
	}
	out := r.Redact("my badge is B-1234", NewTokenMap())
	if out != "my badge is <<BADGE_1>>" {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := New(Config{ExtraPatterns: []ExtraPatternDef{{Name: "bad", Regex: "("}}}); err == nil {
		t.Error("expected error for invalid regex")
	}
	if _, err := New(Config{ExtraPatterns: []ExtraPatternDef{{Regex: "x"}}}); err == nil {
		t.Error("expected error for unnamed pattern")
	}
}

func TestResolveMode(t *testing.T) {
	tests := []struct {
		setting, provider, url string
		want                   Mode
	}{
		{"", "gemini", "", ModeCloud},
		{"", "bedrock", "", ModeCloud},
		{"", "openai", "http://localhost:11434/v1/chat/completions", ModeLocal},
		{"", "openai", "https://api.openai.com/v1/chat/completions", ModeCloud},
		{"", "fallback", "", ModeLocal},
		{"always", "fallback", "", ModeCloud},
		{"never", "gemini", "", ModeLocal},
		{"auto", "openai", "http://127.0.0.1:8080", ModeLocal},
	}
	for _, tt := range tests {
		if got := ResolveMode(tt.setting, tt.provider, tt.url); got != tt.want {
			t.Errorf("ResolveMode(%q, %q, %q) = %s, want %s", tt.setting, tt.provider, tt.url, got, tt.want)
		}
	}
}
