package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatcourier/internal/models"
)

// HTTPResponder calls the external reply-generation service. The contract is
// opaque: a payload and history go in, a status and text come out.
type HTTPResponder struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPResponder creates a responder client.
func NewHTTPResponder(cfg models.EndpointConfig) *HTTPResponder {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResponder{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		client:    &http.Client{Timeout: timeout},
	}
}

type respondRequest struct {
	OwnerID string                    `json:"ownerId"`
	Payload string                    `json:"payload"`
	History []models.ConversationTurn `json:"history,omitempty"`
}

// Respond generates a reply for the payload.
func (r *HTTPResponder) Respond(ctx context.Context, ownerID, payload string, history []models.ConversationTurn) (*models.ResponderResult, error) {
	body, err := json.Marshal(respondRequest{OwnerID: ownerID, Payload: payload, History: history})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal respond request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/respond", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create respond request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("responder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("responder returned status %d", resp.StatusCode)
	}

	var result models.ResponderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode responder result: %w", err)
	}
	return &result, nil
}

// HTTPNotifier calls the external delivery channel. An authentication failure
// from the channel is surfaced as RequiresTokenRefresh, not an error, so the
// processor can halt instead of retrying.
type HTTPNotifier struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPNotifier creates a notifier client.
func NewHTTPNotifier(cfg models.EndpointConfig) *HTTPNotifier {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPNotifier{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		client:    &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	OwnerID string `json:"ownerId"`
	Text    string `json:"text"`
}

// Send delivers text to the owner's channel.
func (n *HTTPNotifier) Send(ctx context.Context, ownerID, text string) (*models.SendResult, error) {
	body, err := json.Marshal(sendRequest{OwnerID: ownerID, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.authToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &models.SendResult{
			Success:              false,
			StatusCode:           resp.StatusCode,
			RequiresTokenRefresh: true,
		}, nil
	}

	var result models.SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode send result: %w", err)
	}
	result.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		result.Success = false
	}
	return &result, nil
}
