package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"crmsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationStreamPaginates(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		calls++
		after := r.URL.Query().Get("after")

		w.Header().Set("Content-Type", "application/json")
		if after == "" {
			fmt.Fprint(w, `{
				"data": [{
					"id": "conv-1",
					"updated_time": "2026-02-01T10:00:00Z",
					"message_count": 3,
					"participants": {"data": [
						{"id": "page-1", "name": "The Page"},
						{"id": "user-1", "name": "Alice"}
					]}
				}],
				"paging": {"cursors": {"after": "cursor-2"}}
			}`)
			return
		}
		require.Equal(t, "cursor-2", after)
		fmt.Fprint(w, `{
			"data": [{
				"id": "conv-2",
				"updated_time": "2026-02-01T11:00:00Z",
				"message_count": 1,
				"participants": {"data": [
					{"id": "user-2", "name": "Bob"},
					{"id": "page-1", "name": "The Page"}
				]}
			}],
			"paging": {"cursors": {}}
		}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 25, "test-token")
	stream, err := client.Conversations(context.Background(), "page-1", models.PlatformMessenger)
	require.NoError(t, err)

	first, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "conv-1", first.ID)
	assert.Equal(t, "user-1", first.Participant.ID, "the page itself is filtered out of participants")
	assert.Equal(t, "Alice", first.Participant.Name)
	assert.Equal(t, 3, first.MessageCnt)
	require.NotNil(t, first.UpdatedAt)

	second, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "conv-2", second.ID)
	assert.Equal(t, "user-2", second.Participant.ID)

	_, ok, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "stream is exhausted after the last cursor")
	assert.Equal(t, 2, calls, "pages are fetched lazily, one request each")
}

func TestMessagesFollowsNextLinks(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"data": [{"from": {"id": "u1", "name": "Alice"}, "message": "older", "created_time": "2026-02-01T09:00:00Z"}], "paging": {}}`)
			return
		}
		fmt.Fprintf(w, `{"data": [{"from": {"id": "u1", "name": "Alice"}, "message": "newest", "created_time": "2026-02-01T10:00:00Z"}], "paging": {"next": "%s/conv-1/messages?page=2"}}`, server.URL)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 25, "test-token")
	messages, err := client.Messages(context.Background(), "conv-1")
	require.NoError(t, err)

	require.Len(t, messages, 2)
	assert.Equal(t, "newest", messages[0].Text)
	assert.Equal(t, "older", messages[1].Text)
	assert.Equal(t, "Alice", messages[0].Sender)
	require.NotNil(t, messages[0].Timestamp)
}

func TestTokenExpiredErrorIsDistinguishable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "Error validating access token", "code": 190}}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 25, "bad-token")
	stream, err := client.Conversations(context.Background(), "page-1", models.PlatformMessenger)
	require.NoError(t, err)

	_, _, err = stream.Next(context.Background())
	require.Error(t, err)
	assert.True(t, IsTokenExpired(err))

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 190, pe.Code)
}

func TestOrdinaryErrorIsNotTokenExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "unknown", "code": 1}}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 25, "token")
	_, err := client.Messages(context.Background(), "conv-1")
	require.Error(t, err)
	assert.False(t, IsTokenExpired(err))
}
