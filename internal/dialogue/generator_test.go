package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/redact"
)

func testContext(level escalation.Level) escalation.PromptContext {
	levels := escalation.DefaultLevels()
	return escalation.PromptContext{
		SessionID:   "s1",
		Slot:        "door",
		Level:       level,
		MaxLevel:    4,
		Spec:        levels[level-1],
		TurnIndex:   2,
		Escalations: int(level) - 1,
		Elapsed:     25 * time.Second,
		History: []escalation.TurnSummary{
			{Level: 1, Prompt: "Who are you?", Response: escalation.Timeout},
			{Level: 2, Prompt: "State your business.", Reply: "whatever", Response: escalation.Neutral},
		},
	}
}

func TestSystemPromptMentionsLevel(t *testing.T) {
	p := SystemPrompt(DefaultPersona(), testContext(3))
	for _, want := range []string{"Guardian AI", "3/4", "stern and warning", "at most 30 words"} {
		if !strings.Contains(p, want) {
			t.Errorf("expected system prompt to contain %q", want)
		}
	}
}

func TestSituationIncludesHistory(t *testing.T) {
	s := Situation(testContext(2))
	for _, want := range []string{"25s", "Turn 3", "(no answer)", `"whatever"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected situation to contain %q, got:\n%s", want, s)
		}
	}
}

func TestFallbackSpeaksLevelPhrase(t *testing.T) {
	pc := testContext(4)
	got, err := Fallback{}.Generate(context.Background(), pc)
	if err != nil {
		t.Fatal(err)
	}
	if got != pc.Spec.Fallback {
		t.Errorf("expected fallback phrase, got %q", got)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var body struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		if len(body.Messages) != 2 || body.Messages[0]["role"] != "system" {
			t.Errorf("expected system+user messages, got %v", body.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"\"You are trespassing. Leave now\""}}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(Config{APIURL: srv.URL, APIKey: "k", Model: "llama3", Persona: DefaultPersona()})
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(context.Background(), testContext(3))
	if err != nil {
		t.Fatal(err)
	}
	if got != "You are trespassing. Leave now!" {
		t.Errorf("unexpected line %q", got)
	}
	if gotModel != "llama3" {
		t.Errorf("expected model llama3, got %q", gotModel)
	}
}

func TestOpenAIHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, _ := NewOpenAI(Config{APIURL: srv.URL, Model: "m"})
	if _, err := g.Generate(context.Background(), testContext(1)); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected HTTP 503 error, got %v", err)
	}
}

func TestOpenAIEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  "}}]}`))
	}))
	defer srv.Close()

	g, _ := NewOpenAI(Config{APIURL: srv.URL, Model: "m"})
	if _, err := g.Generate(context.Background(), testContext(1)); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAIHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	g, _ := NewOpenAI(Config{APIURL: srv.URL, Model: "m"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := g.Generate(ctx, testContext(1)); err == nil {
		t.Fatal("expected error on deadline")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("expected generate to return promptly after deadline")
	}
}

type fakeConverser struct {
	in  *bedrockruntime.ConverseInput
	out *bedrockruntime.ConverseOutput
	err error
}

func (f *fakeConverser) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestBedrockGenerate(t *testing.T) {
	fake := &fakeConverser{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "Please identify yourself"}},
		}},
	}}
	b := newBedrock(fake, Config{Model: "anthropic.claude-3-haiku", MaxTokens: 150, Temperature: 0.7, Persona: DefaultPersona()})

	got, err := b.Generate(context.Background(), testContext(1))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Please identify yourself." {
		t.Errorf("unexpected line %q", got)
	}
	if fake.in == nil || *fake.in.ModelId != "anthropic.claude-3-haiku" || len(fake.in.System) != 1 {
		t.Error("expected model id and system prompt on request")
	}
}

func TestBedrockError(t *testing.T) {
	b := newBedrock(&fakeConverser{err: errors.New("throttled")}, Config{Model: "m"})
	if _, err := b.Generate(context.Background(), testContext(1)); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "eliza"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	g, err := New(context.Background(), Config{Provider: "fallback"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(Fallback); !ok {
		t.Errorf("expected Fallback, got %T", g)
	}
}

type recordingGenerator struct {
	seen escalation.PromptContext
	line string
}

func (r *recordingGenerator) Generate(_ context.Context, pc escalation.PromptContext) (string, error) {
	r.seen = pc
	return r.line, nil
}

func TestScrubbedRedactsHistory(t *testing.T) {
	r, err := redact.New(redact.Config{})
	if err != nil {
		t.Fatal(err)
	}
	inner := &recordingGenerator{line: "Nobody at <<EMAIL_1>> is expected. Leave now."}
	gen := NewScrubbed(inner, r)

	pc := testContext(2)
	pc.History[1].Reply = "I'm a guest, write to bob@example.net"
	got, err := gen.Generate(context.Background(), pc)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(inner.seen.History[1].Reply, "bob@example.net") {
		t.Errorf("email reached the model: %q", inner.seen.History[1].Reply)
	}
	if pc.History[1].Reply != "I'm a guest, write to bob@example.net" {
		t.Error("caller's history was modified")
	}
	if got != "Nobody at bob@example.net is expected. Leave now." {
		t.Errorf("expected tokens restored, got %q", got)
	}
}

func TestNewWrapsRemoteProviders(t *testing.T) {
	gen, err := New(context.Background(), Config{Provider: "fallback", Redact: redact.Config{Mode: "always"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := gen.(*Scrubbed); !ok {
		t.Errorf("expected scrubbed generator, got %T", gen)
	}
	gen, err = New(context.Background(), Config{Provider: "fallback"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := gen.(Fallback); !ok {
		t.Errorf("expected plain fallback, got %T", gen)
	}
	if _, err := New(context.Background(), Config{Provider: "fallback", Redact: redact.Config{
		Mode: "always", ExtraPatterns: []redact.ExtraPatternDef{{Name: "x", Regex: "("}},
	}}); err == nil {
		t.Error("expected error for invalid redact pattern")
	}
}
