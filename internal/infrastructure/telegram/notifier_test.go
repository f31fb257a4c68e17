package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiblioScanner/internal/config"
)

func TestPublishDigestPostsForm(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "42", r.PostForm.Get("chat_id"))
		got = append(got, r.PostForm.Get("text"))
	}))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "TOKEN", ChatID: "42"}, srv.URL)
	require.NoError(t, n.PublishDigest(context.Background(), "3 papers summarised"))
	assert.Equal(t, []string{"3 papers summarised"}, got)
}

func TestPublishDigestReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "bad", ChatID: "42"}, srv.URL)
	assert.Error(t, n.PublishDigest(context.Background(), "x"))
}

func TestPublishDigestRequiresConfiguration(t *testing.T) {
	n := NewNotifier(config.TelegramConfig{}, "")
	assert.False(t, n.Configured())
	assert.Error(t, n.PublishDigest(context.Background(), "x"))
}

func TestSplitMessage(t *testing.T) {
	line := strings.Repeat("a", 9) + "\n"
	text := strings.Repeat(line, 5)

	chunks := splitMessage(text, 25)
	assert.Equal(t, text, strings.Join(chunks, ""), "chunks keep every byte")
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 25)
	}
	assert.Equal(t, line+line, chunks[0], "split on newline")
}
