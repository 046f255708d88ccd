package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hamsafar/dispatch/pkg/httpclient"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppClient sends messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	http    *httpclient.Client
	token   string
	phoneID string
}

// NewWhatsAppClient creates a WhatsApp Cloud API client.
func NewWhatsAppClient(baseURL, token, phoneID string, timeout time.Duration) *WhatsAppClient {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return &WhatsAppClient{
		http:    httpclient.NewClient(baseURL, timeout),
		token:   token,
		phoneID: phoneID,
	}
}

type waTemplateComponent struct {
	Type       string        `json:"type"`
	Parameters []waParameter `json:"parameters"`
}

type waParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type waSendRequest struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Template         *waTemplate `json:"template,omitempty"`
	Text             *waText     `json:"text,omitempty"`
}

type waTemplate struct {
	Name       string                `json:"name"`
	Language   waLanguage            `json:"language"`
	Components []waTemplateComponent `json:"components,omitempty"`
}

type waLanguage struct {
	Code string `json:"code"`
}

type waText struct {
	Body string `json:"body"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendTemplate sends a pre-approved template message. Parameters must already
// be sanitized by the caller.
func (w *WhatsAppClient) SendTemplate(ctx context.Context, phone, template string, params []string) (string, error) {
	payload := waSendRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "template",
		Template: &waTemplate{
			Name:     template,
			Language: waLanguage{Code: "en"},
		},
	}
	if len(params) > 0 {
		parameters := make([]waParameter, len(params))
		for i, p := range params {
			parameters[i] = waParameter{Type: "text", Text: p}
		}
		payload.Template.Components = []waTemplateComponent{
			{Type: "body", Parameters: parameters},
		}
	}

	return w.send(ctx, payload)
}

// SendText sends a free-form text message (only valid inside the 24h
// customer-service window).
func (w *WhatsAppClient) SendText(ctx context.Context, phone, body string) (string, error) {
	return w.send(ctx, waSendRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             &waText{Body: body},
	})
}

func (w *WhatsAppClient) send(ctx context.Context, payload waSendRequest) (string, error) {
	headers := map[string]string{"Authorization": "Bearer " + w.token}

	respBody, err := w.http.Post(ctx, fmt.Sprintf("/%s/messages", w.phoneID), payload, headers)
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}

	var resp waSendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("whatsapp response decode: %w", err)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp response missing message id")
	}

	return resp.Messages[0].ID, nil
}
