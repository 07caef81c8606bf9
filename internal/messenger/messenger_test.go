package messenger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	var received []sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = append(received, req)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	m, err := New(Config{BaseURL: server.URL, Recipient: "+15551234567"}, nil)
	require.NoError(t, err)

	id, err := m.Send(context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, id, received[0].MessageID)
	assert.Equal(t, "+15551234567", received[0].Recipient)
	assert.Equal(t, "hello", received[0].Text)
}

func TestSend_LongMessageSplits(t *testing.T) {
	var received []sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = append(received, req)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	m, err := New(Config{BaseURL: server.URL, Recipient: "+15551234567"}, nil)
	require.NoError(t, err)

	lines := make([]string, 40)
	for i := range lines {
		lines[i] = strings.Repeat("x", 100)
	}
	text := strings.Join(lines, "\n")

	id, err := m.Send(context.Background(), text)
	require.NoError(t, err)

	require.Greater(t, len(received), 1)
	assert.Equal(t, id, received[0].MessageID)
	for _, req := range received {
		assert.LessOrEqual(t, len(req.Text), defaultMaxLength)
	}
}

func TestSplitMessage(t *testing.T) {
	// Fits in one part.
	parts := splitMessage("short", 100)
	assert.Equal(t, []string{"short"}, parts)

	// Splits on newline boundaries, never mid-line.
	parts = splitMessage("aaaa\nbbbb\ncccc", 9)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	// A single oversized line is hard-split.
	parts = splitMessage(strings.Repeat("z", 25), 10)
	assert.Equal(t, []string{"zzzzzzzzzz", "zzzzzzzzzz", "zzzzz"}, parts)
}
