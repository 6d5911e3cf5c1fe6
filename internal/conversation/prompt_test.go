package conversation

import (
	"strings"
	"testing"
)

func TestAssemblePromptFullScenario(t *testing.T) {
	history := []*Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	got := AssemblePrompt("You are terse.", history, "bye", nil)
	want := "SYSTEM: You are terse.\nUSER: hi\nASSISTANT: hello\nUSER: bye"
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestAssemblePromptWithoutSystemPrompt(t *testing.T) {
	got := AssemblePrompt("", nil, "hi", nil)
	if got != "USER: hi" {
		t.Errorf("prompt = %q", got)
	}
}

func TestAssemblePromptAttachmentLines(t *testing.T) {
	history := []*Message{
		{
			Role:    RoleUser,
			Content: "see the invoice",
			Attachments: []Attachment{
				{ID: "f1", Filename: "invoice.pdf", URL: "http://example.com/f1"},
			},
		},
	}
	atts := []Attachment{
		{ID: "f2", Filename: "report.pdf", URL: "http://example.com/f2"},
	}
	got := AssemblePrompt("", history, "and the report", atts)

	lines := strings.Split(got, "\n")
	want := []string{
		"USER: see the invoice",
		"[Attachment: invoice.pdf -> http://example.com/f1]",
		"USER: and the report",
		"[Attachment: report.pdf -> http://example.com/f2]",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestAssemblePromptDeterministic(t *testing.T) {
	history := []*Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
	}
	first := AssemblePrompt("sys", history, "c", nil)
	second := AssemblePrompt("sys", history, "c", nil)
	if first != second {
		t.Error("assembly not deterministic")
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 0},
		{"ab", 1},
		{"hello", 2},
		{"hello world!", 6},
		{"سلام دنیا", 4},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
