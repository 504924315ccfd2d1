package notify

import (
	"strings"
	"testing"
)

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		url       string
		wantID    string
		wantToken string
	}{
		{"https://discord.com/api/webhooks/123456/abcdef", "123456", "abcdef"},
		{"https://discord.com/api/webhooks/123456/abcdef?wait=true", "123456", "abcdef"},
		{"https://discord.com/api/v10/webhooks/9/tok", "9", "tok"},
		{"", "", ""},
		{"https://example.com/not-a-webhook", "", ""},
		{"https://discord.com/api/webhooks/onlyid", "", ""},
	}
	for _, tc := range tests {
		id, token := parseWebhookURL(tc.url)
		if id != tc.wantID || token != tc.wantToken {
			t.Fatalf("parse %q: got (%q, %q), want (%q, %q)", tc.url, id, token, tc.wantID, tc.wantToken)
		}
	}
}

func TestBuildSummaryEmbed(t *testing.T) {
	embed := BuildSummaryEmbed(Summary{
		GuildName: "Test Guild",
		GuildID:   "g1",
		Creator:   "tester",
		Succeeded: 5,
		Skipped:   2,
	})
	if !strings.Contains(embed.Title, "complete") {
		t.Fatalf("unexpected title %q", embed.Title)
	}
	if !strings.Contains(embed.Description, "5 sections backed up, 2 skipped") {
		t.Fatalf("unexpected description %q", embed.Description)
	}
	if embed.Footer == nil || !strings.Contains(embed.Footer.Text, "tester") {
		t.Fatalf("creator missing from footer")
	}

	failed := BuildSummaryEmbed(Summary{GuildID: "g1", Failed: true, Error: "login timed out"})
	if !strings.Contains(failed.Title, "failed") {
		t.Fatalf("unexpected failed title %q", failed.Title)
	}
	if !strings.Contains(failed.Description, "login timed out") {
		t.Fatalf("failure reason missing from %q", failed.Description)
	}
}

func TestNotifierDisabledWithoutURL(t *testing.T) {
	n := New(nil, "", nil)
	if n.Enabled() {
		t.Fatalf("notifier without session and url must be disabled")
	}
	// Send on a disabled notifier is a no-op, not a panic.
	n.Send(Summary{GuildID: "g1"})
}
