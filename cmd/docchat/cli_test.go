package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"docchat/internal/config"
	"docchat/internal/gateway"
	"docchat/internal/prefs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	mu       sync.Mutex
	sends    []map[string]any
	failSend bool
	deleted  []string
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chat/conversations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": 7, "title": "Quarterly numbers", "created_at": "2025-02-01T10:00:00", "last_message_preview": "Revenue grew"},
			{"id": 3, "title": "", "created_at": nil},
		})
	})
	mux.HandleFunc("GET /api/chat/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "7" {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, []map[string]any{
			{"id": 1, "role": "user", "content": "How did revenue do?"},
			{"id": 2, "role": "assistant", "content": "It grew 12%.", "references": []map[string]any{
				{"document_title": "Q3 report", "page_number": 4, "page_content": "Revenue rose 12%"},
			}},
		})
	})
	mux.HandleFunc("POST /api/chat/message", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.sends = append(b.sends, body)
		fail := b.failSend
		b.mu.Unlock()
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"message":         "Answer: " + body["message"].(string),
			"conversation_id": 42,
			"references":      []map[string]any{{"title": "Handbook", "page_number": "2", "content": "excerpt"}},
		})
	})
	mux.HandleFunc("GET /api/documents", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": "d1", "title": "Handbook", "status": "indexed", "file_type": "pdf"},
			{"id": "d2", "title": "Draft", "status": "processing"},
		})
	})
	mux.HandleFunc("DELETE /api/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.deleted = append(b.deleted, r.PathValue("id"))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// run executes the command tree against the fake backend with an isolated
// home directory and in-memory preferences.
func run(t *testing.T, b *backend, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, env := range []string{"DOCCHAT_CONFIG", "DOCCHAT_API_URL", "DOCCHAT_TOKEN", "DOCCHAT_TOKEN_FILE"} {
		t.Setenv(env, "")
	}

	base := []string{
		"--api-url", srv.URL + "/api",
		"--prefs-backend", "memory",
		"--log-file", filepath.Join(home, "docchat.log"),
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, base...))
	err := root.Execute()
	return out.String(), err
}

func TestConversationsCommand(t *testing.T) {
	out, err := run(t, &backend{}, "conversations")
	require.NoError(t, err)
	assert.Contains(t, out, "Quarterly numbers")
	assert.Contains(t, out, "Revenue grew")
	assert.Contains(t, out, "Conversation 3")
}

func TestHistoryCommand(t *testing.T) {
	out, err := run(t, &backend{}, "history", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "## You\n\nHow did revenue do?")
	assert.Contains(t, out, "## Assistant\n\nIt grew 12%.")
	assert.Contains(t, out, "1. *Q3 report* (page 4)")
	assert.Contains(t, out, "   > Revenue rose 12%")
}

func TestHistoryCommandEmpty(t *testing.T) {
	out, err := run(t, &backend{}, "history", "9")
	require.NoError(t, err)
	assert.Equal(t, "No messages.\n", out)
}

func TestSendCommand(t *testing.T) {
	b := &backend{}
	out, err := run(t, b, "send", "--doc", "d1", "what", "is", "covered?")
	require.NoError(t, err)

	assert.Contains(t, out, "Answer: what is covered?")
	assert.Contains(t, out, "1. *Handbook* (page 2)")
	assert.Contains(t, out, "conversation: 42")

	require.Len(t, b.sends, 1)
	sent := b.sends[0]
	assert.Equal(t, "what is covered?", sent["message"])
	assert.Nil(t, sent["conversation_id"])
	assert.Equal(t, []any{"d1"}, sent["document_ids"])
	settings := sent["model_settings"].(map[string]any)
	assert.Equal(t, "gpt-4", settings["model"])
	assert.Equal(t, float64(3), settings["num_chunks"])
}

func TestSendCommandContinuesConversation(t *testing.T) {
	b := &backend{}
	_, err := run(t, b, "send", "--conversation", "7", "more detail")
	require.NoError(t, err)
	require.Len(t, b.sends, 1)
	assert.Equal(t, "7", b.sends[0]["conversation_id"])
}

func TestSendCommandFailure(t *testing.T) {
	out, err := run(t, &backend{failSend: true}, "send", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrExchangeFailed)
	assert.Contains(t, out, "An error occurred while processing your request")
}

func TestDocsCommands(t *testing.T) {
	out, err := run(t, &backend{}, "docs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Handbook")
	assert.NotContains(t, out, "Draft", "only indexed documents are offered")

	b := &backend{}
	out, err = run(t, b, "docs", "delete", "d1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted d1\n", out)
	assert.Equal(t, []string{"d1"}, b.deleted)
}

func TestDocsUploadMissingFile(t *testing.T) {
	_, err := run(t, &backend{}, "docs", "upload", filepath.Join(t.TempDir(), "nope.pdf"))
	require.Error(t, err)
}

func TestSettingsCommands(t *testing.T) {
	out, err := run(t, &backend{}, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "fragments: 3")
	assert.Contains(t, out, "model: gpt-4")
	assert.Contains(t, out, "available_models:")

	out, err = run(t, &backend{}, "settings", "set", "--fragments", "5", "--model", "claude")
	require.NoError(t, err)
	assert.Contains(t, out, "fragments: 5")
	assert.Contains(t, out, "model: claude")
	assert.Contains(t, out, "temperature: 0.7")

	_, err = run(t, &backend{}, "settings", "set", "--fragments", "9")
	assert.ErrorIs(t, err, prefs.ErrInvalid)

	_, err = run(t, &backend{}, "settings", "set", "--model", "llama")
	assert.ErrorIs(t, err, prefs.ErrInvalid)

	out, err = run(t, &backend{}, "settings", "set", "--model", "llama", "--extra-model", "llama")
	require.NoError(t, err)
	assert.Contains(t, out, "model: llama")
}

func TestSettingsReset(t *testing.T) {
	out, err := run(t, &backend{}, "settings", "reset")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "fragments: 3\n"), out)
}

func TestCredentials(t *testing.T) {
	assert.Equal(t, gateway.Anonymous{}, credentials(configWith("", "")))
	assert.Equal(t, gateway.StaticToken("tok"), credentials(configWith("tok", "")))
	assert.Equal(t, gateway.TokenFile("/run/token"), credentials(configWith("tok", "/run/token")))
}

func configWith(token, file string) config.AppConfig {
	cfg := config.Defaults()
	cfg.Token = token
	cfg.TokenFile = file
	return cfg
}
