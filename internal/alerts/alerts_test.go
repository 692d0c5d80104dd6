package alerts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/jsonx"
)

const webhookPath = "/api/webhooks/1234567890/s3cr3t-token"

func webhookServer(t *testing.T, status int) (string, <-chan string) {
	t.Helper()
	got := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != webhookPath {
			t.Errorf("request %s %s, want POST %s", r.Method, r.URL.Path, webhookPath)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Content string `json:"content"`
		}
		if err := jsonx.Unmarshal(body, &payload); err != nil {
			t.Errorf("bad payload %q: %v", body, err)
		}
		got <- payload.Content
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + webhookPath, got
}

func TestDisabledNotifier(t *testing.T) {
	urls := []string{
		"",
		config.WebhookPlaceholder,
		"  ",
		"https://discord.com/api/channels/1",
		"ftp://discord.com/api/webhooks/1/tok",
	}
	for _, url := range urls {
		n := NewNotifier(config.AlertConfig{WebhookURL: url})
		if n.Enabled() {
			t.Errorf("url %q should disable the notifier", url)
		}
		if err := n.Test("alpha", time.Now()); err != ErrDisabled {
			t.Errorf("Test() = %v, want ErrDisabled", err)
		}
		n.BlockFound("alpha", time.Now())
	}
}

func TestBlockFoundPostsMessage(t *testing.T) {
	url, got := webhookServer(t, http.StatusNoContent)
	n := NewNotifier(config.AlertConfig{WebhookURL: url, TimeoutSeconds: 2})

	at := time.Date(2026, 3, 8, 14, 5, 9, 0, time.Local)
	n.BlockFound("alpha", at)

	select {
	case content := <-got:
		want := "🧱 **BLOCK FOUND!**\n👑 **alpha**\n🕒 14:05:09"
		if content != want {
			t.Errorf("content = %q, want %q", content, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestTestMessage(t *testing.T) {
	url, got := webhookServer(t, http.StatusOK)
	n := NewNotifier(config.AlertConfig{WebhookURL: url})

	if err := n.Test("beta", time.Now()); err != nil {
		t.Fatalf("Test() = %v", err)
	}
	select {
	case content := <-got:
		if !strings.HasPrefix(content, "🧪 **TEST WEBHOOK**") || !strings.Contains(content, "**beta**") {
			t.Errorf("content = %q", content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestPostReportsStatus(t *testing.T) {
	url, _ := webhookServer(t, http.StatusBadRequest)
	n := NewNotifier(config.AlertConfig{WebhookURL: url})

	err := n.post(context.Background(), "hello")
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response.StatusCode != http.StatusBadRequest {
		t.Errorf("post() = %v, want a 400 REST error", err)
	}
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		raw       string
		wantID    string
		wantToken string
		wantErr   bool
	}{
		{raw: "https://discord.com/api/webhooks/111/abc", wantID: "111", wantToken: "abc"},
		{raw: "https://discord.com/api/v10/webhooks/222/def/", wantID: "222", wantToken: "def"},
		{raw: "http://proxy.lan:8080/hooks/webhooks/333/ghi", wantID: "333", wantToken: "ghi"},
		{raw: "https://discord.com/api/webhooks/444", wantErr: true},
		{raw: "discord.com/api/webhooks/555/jkl", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, id, token, err := parseWebhookURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got id=%q token=%q", id, token)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.wantID || token != tt.wantToken {
				t.Errorf("got id=%q token=%q, want %q %q", id, token, tt.wantID, tt.wantToken)
			}
		})
	}
}
