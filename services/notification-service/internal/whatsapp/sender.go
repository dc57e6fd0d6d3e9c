// Package whatsapp delivers template messages through the WhatsApp Cloud
// (Graph) API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const TemplateOrderNotification = "order_notification"

// Message is one template send. Params fill the template body in order.
type Message struct {
	To       string
	Template string
	Language string
	Params   []string
}

type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
	ProviderID() string
}

type Config struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type GraphSender struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewGraphSender(cfg Config) *GraphSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v20.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &GraphSender{
		endpoint: fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIVersion, strings.TrimSpace(cfg.PhoneNumberID)),
		token:    strings.TrimSpace(cfg.AccessToken),
		http:     client,
	}
}

func (s *GraphSender) ProviderID() string { return "whatsapp-graph" }

type textParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []textParam `json:"parameters"`
}

type template struct {
	Name       string            `json:"name"`
	Language   map[string]string `json:"language"`
	Components []component       `json:"components"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         template `json:"template"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts the template and returns the provider message id.
func (s *GraphSender) Send(ctx context.Context, msg Message) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("whatsapp access token not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return "", fmt.Errorf("whatsapp recipient is empty")
	}
	lang := msg.Language
	if lang == "" {
		lang = "en"
	}
	params := make([]textParam, 0, len(msg.Params))
	for _, p := range msg.Params {
		params = append(params, textParam{Type: "text", Text: p})
	}
	raw, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             "template",
		Template: template{
			Name:       msg.Template,
			Language:   map[string]string{"code": lang},
			Components: []component{{Type: "body", Parameters: params}},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out sendResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("whatsapp returned %d: %s (code %d)", resp.StatusCode, out.Error.Message, out.Error.Code)
		}
		return "", fmt.Errorf("whatsapp returned %d", resp.StatusCode)
	}
	if len(out.Messages) > 0 {
		return out.Messages[0].ID, nil
	}
	return "", nil
}

type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (s *NoopSender) ProviderID() string { return "whatsapp-noop" }

func (s *NoopSender) Send(context.Context, Message) (string, error) { return "", nil }
