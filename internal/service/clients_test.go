package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcourier/internal/models"
)

func TestHTTPResponder_Respond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/respond", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req respondRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "owner-1", req.OwnerID)
		assert.Len(t, req.History, 2)

		json.NewEncoder(w).Encode(models.ResponderResult{Status: "success", Text: "echo: " + req.Payload})
	}))
	defer srv.Close()

	responder := NewHTTPResponder(models.EndpointConfig{BaseURL: srv.URL, AuthToken: "secret"})
	result, err := responder.Respond(context.Background(), "owner-1", "hello", []models.ConversationTurn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hey"},
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", result.Text)
}

func TestHTTPResponder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	responder := NewHTTPResponder(models.EndpointConfig{BaseURL: srv.URL})
	_, err := responder.Respond(context.Background(), "owner-1", "hello", nil)
	assert.Error(t, err)
}

func TestHTTPNotifier_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		json.NewEncoder(w).Encode(models.SendResult{Success: true, MessageID: "msg-1"})
	}))
	defer srv.Close()

	notifier := NewHTTPNotifier(models.EndpointConfig{BaseURL: srv.URL})
	result, err := notifier.Send(context.Background(), "owner-1", "hello")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "msg-1", result.MessageID)
}

func TestHTTPNotifier_AuthFailureSignalsTokenRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	notifier := NewHTTPNotifier(models.EndpointConfig{BaseURL: srv.URL})
	result, err := notifier.Send(context.Background(), "owner-1", "hello")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.RequiresTokenRefresh)
}
