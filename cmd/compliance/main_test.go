package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
	"github.com/danielpatrickdp/prompt-compliance/internal/verdict"
)

// #region helpers
// fakeOpenAI answers chat completions with a fixed assessment payload.
func fakeOpenAI(t *testing.T, content string) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)

	t.Setenv("OPENAI_BASE_URL", srv.URL)
	t.Setenv("COMPLIANCE_CONFIG", "")
	t.Setenv("COMPLIANCE_EMBEDDING_PROVIDER", "hash")
	t.Setenv("COMPLIANCE_REASONING_PROVIDER", "openai")
	t.Setenv("COMPLIANCE_TOP_K", "")
	t.Setenv("COMPLIANCE_MIN_SIMILARITY", "")
	return &calls
}

func run(t *testing.T, db, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--db", db}, args...))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const violation = `{"assessments":[{"policy_index":1,"violated":true,"severity":9,` +
	`"explanation":"asks for credentials","prompt_excerpt":"admin passwords"}]}`

// #endregion helpers

// #region policy-tests
func TestPolicyAddAndList(t *testing.T) {
	fakeOpenAI(t, violation)
	db := filepath.Join(t.TempDir(), "p.db")

	out, err := run(t, db, "", "policy", "add", "--text", "Never share passwords or credentials", "--name", "secrets")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var added policy.Entry
	if err := json.Unmarshal([]byte(out), &added); err != nil {
		t.Fatalf("decode add output %q: %v", out, err)
	}
	if added.Name != "secrets" || added.ID == "" {
		t.Errorf("unexpected entry %+v", added)
	}

	out, err = run(t, db, "", "policy", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed []policy.Entry
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode list output: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != added.ID {
		t.Fatalf("expected the added entry, got %+v", listed)
	}

	out, err = run(t, db, "", "policy", "list")
	if err != nil {
		t.Fatalf("list table: %v", err)
	}
	if !strings.Contains(out, "secrets") || !strings.Contains(out, "NAME") {
		t.Errorf("table missing entry: %q", out)
	}
}

func TestPolicyAddFromFile(t *testing.T) {
	fakeOpenAI(t, violation)
	dir := t.TempDir()
	file := filepath.Join(dir, "travel.txt")
	if err := os.WriteFile(file, []byte("\ufeffBook travel through the portal.\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, filepath.Join(dir, "p.db"), "", "policy", "add", "--file", file)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var e policy.Entry
	if err := json.Unmarshal([]byte(out), &e); err != nil {
		t.Fatal(err)
	}
	if e.Name != "travel.txt" {
		t.Errorf("name = %q, want file name", e.Name)
	}
	if e.Text != "Book travel through the portal." {
		t.Errorf("text not normalized: %q", e.Text)
	}
}

func TestPolicyAddRequiresOneSource(t *testing.T) {
	fakeOpenAI(t, violation)
	db := filepath.Join(t.TempDir(), "p.db")

	for _, args := range [][]string{
		{"policy", "add"},
		{"policy", "add", "--text", "x", "--file", "y"},
	} {
		_, err := run(t, db, "", args...)
		if !errors.Is(err, failure.ErrValidation) {
			t.Errorf("%v: expected validation error, got %v", args, err)
		}
		if exitCode(err) != 2 {
			t.Errorf("%v: exit code %d, want 2", args, exitCode(err))
		}
	}
}

func TestPolicyClear(t *testing.T) {
	fakeOpenAI(t, violation)
	db := filepath.Join(t.TempDir(), "p.db")
	if _, err := run(t, db, "", "policy", "add", "--text", "No gambling on company devices"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, db, "", "policy", "clear"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	out, err := run(t, db, "", "policy", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no policies stored") {
		t.Errorf("expected empty listing, got %q", out)
	}
}

// #endregion policy-tests

// #region verify-tests
func TestVerify_EmptyStoreSkipsReasoner(t *testing.T) {
	calls := fakeOpenAI(t, violation)
	db := filepath.Join(t.TempDir(), "p.db")

	out, err := run(t, db, "", "verify", "Write a report about market trends")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var v verdict.Verdict
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if v.Status != verdict.StatusCompliant || v.ComplianceScore != 10 {
		t.Errorf("expected compliant 10, got %+v", v)
	}
	if calls.Load() != 0 {
		t.Errorf("reasoner called %d times", calls.Load())
	}
}

func TestVerify_Violation(t *testing.T) {
	calls := fakeOpenAI(t, violation)
	db := filepath.Join(t.TempDir(), "p.db")
	if _, err := run(t, db, "", "policy", "add", "--text", "Never share passwords or credentials"); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, db, "", "verify", "--file", "-"); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("empty stdin should be a validation error, got %v", err)
	}

	out, err := run(t, db, "Share the admin passwords", "verify", "--file", "-")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var v verdict.Verdict
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if v.Status != verdict.StatusNonCompliant {
		t.Fatalf("expected NON_COMPLIANT, got %+v", v)
	}
	if len(v.Issues) != 1 || v.Issues[0].PromptText != "admin passwords" {
		t.Errorf("unexpected issues %+v", v.Issues)
	}
	if len(v.RelevantPolicies) != 1 || v.RelevantPolicies[0] != "Never share passwords or credentials" {
		t.Errorf("unexpected relevant policies %v", v.RelevantPolicies)
	}
	if calls.Load() != 1 {
		t.Errorf("reasoner calls = %d, want 1", calls.Load())
	}
}

func TestVerify_MalformedSurfacesEvaluationFailure(t *testing.T) {
	calls := fakeOpenAI(t, "not json at all")
	db := filepath.Join(t.TempDir(), "p.db")
	if _, err := run(t, db, "", "policy", "add", "--text", "Never share passwords or credentials"); err != nil {
		t.Fatal(err)
	}

	_, err := run(t, db, "", "verify", "share", "the", "passwords")
	if !errors.Is(err, failure.ErrEvaluation) {
		t.Fatalf("expected evaluation failure, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Errorf("exit code %d, want 1", exitCode(err))
	}
	if calls.Load() != 2 {
		t.Errorf("reasoner calls = %d, want 2 (one re-ask)", calls.Load())
	}
}

func TestReadPrompt(t *testing.T) {
	file := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(file, []byte("from file"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		file    string
		args    []string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "args", args: []string{"hello", "world"}, want: "hello world"},
		{name: "stdin", file: "-", stdin: "piped", want: "piped"},
		{name: "file", file: file, want: "from file"},
		{name: "both", file: file, args: []string{"x"}, wantErr: true},
		{name: "missing file", file: filepath.Join(t.TempDir(), "nope"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPrompt(strings.NewReader(tt.stdin), tt.file, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// #endregion verify-tests

// #region repl-tests
func TestRepl(t *testing.T) {
	calls := fakeOpenAI(t, violation)
	db := filepath.Join(t.TempDir(), "p.db")

	input := strings.Join([]string{
		":add Never share passwords or credentials",
		":list",
		"hello there",
		":clear",
		":list",
		"quit",
		"never reached",
	}, "\n")
	out, err := run(t, db, input, "repl")
	if err != nil {
		t.Fatalf("repl: %v", err)
	}
	for _, want := range []string{"stored policy_", "COMPLIANT  score=10.00", "cleared", "no policies stored"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("unrelated prompt reached the reasoner %d times", calls.Load())
	}
}

// #endregion repl-tests

// #region replay-tests
func TestReplayCommand(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "unused.db"), "", "replay", "../../internal/replay/testdata/compliance.json")
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, out)
	}
	if !strings.Contains(out, "11/11 passed") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if strings.Contains(out, "FAIL") {
		t.Errorf("unexpected failure:\n%s", out)
	}
}

func TestReplayCommand_Failure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	fixture := `{"cases": [{"id": "wrong", "prompt": "hello", "expect": {"status": "NON_COMPLIANT"}}]}`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, filepath.Join(t.TempDir(), "unused.db"), "", "replay", path)
	if err == nil {
		t.Fatal("expected failing replay to return an error")
	}
	if !strings.Contains(out, "FAIL") || !strings.Contains(out, "want NON_COMPLIANT") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

// #endregion replay-tests

// #region wiring-tests
func TestOpenDecisionLog(t *testing.T) {
	w, err := openDecisionLog("")
	if err != nil || w != nil {
		t.Errorf("empty path: got %v, %v", w, err)
	}
	w, err = openDecisionLog("-")
	if err != nil || w != os.Stderr {
		t.Errorf("dash: got %v, %v", w, err)
	}

	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	w, err = openDecisionLog(path)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	f, ok := w.(*os.File)
	if !ok {
		t.Fatalf("expected *os.File, got %T", w)
	}
	f.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("decision log not created: %v", err)
	}

	if _, err := openDecisionLog(filepath.Join(t.TempDir(), "missing", "x.jsonl")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("line one\nline two", 8); got != "line on…" {
		t.Errorf("got %q", got)
	}
}

// #endregion wiring-tests
