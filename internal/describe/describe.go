// Package describe asks an external text-completion service for a short
// description of a discovered endpoint. Every failure falls back to a
// deterministic sentence built from the method and path.
package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/apiscope/internal/pattern"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// maxResponseBytes bounds what is read back from the service.
const maxResponseBytes = 64 << 10

// Request carries what the service is told about one endpoint.
type Request struct {
	Method         string
	Path           string
	RequestSchema  *types.Schema
	ResponseSchema *types.Schema
}

// Client posts prompts to the description service. A Client with an empty
// endpoint only produces fallback sentences.
type Client struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func New(endpoint string, timeout time.Duration, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{endpoint: strings.TrimSpace(endpoint), client: client, timeout: timeout}
}

// Enabled reports whether a service endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// Describe returns the service's description or the fallback sentence.
// It never fails.
func (c *Client) Describe(ctx context.Context, req Request) string {
	fallback := Fallback(req.Method, req.Path)
	if !c.Enabled() {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.complete(ctx, Prompt(req))
	if err != nil {
		slog.Warn("Description service failed, using fallback", "method", req.Method, "path", req.Path, "error", err)
		return fallback
	}
	return text
}

type completionRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type completionResponse struct {
	Text        string `json:"text"`
	Description string `json:"description"`
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(completionRequest{Prompt: prompt, MaxTokens: 200})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("description request failed: status=%d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode description response: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		text = strings.TrimSpace(out.Description)
	}
	if text == "" {
		return "", fmt.Errorf("description response was empty")
	}
	return text, nil
}

// Prompt renders the text sent to the service.
func Prompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe this API endpoint in one short paragraph.\nEndpoint: %s %s\n",
		strings.ToUpper(req.Method), req.Path)
	if req.RequestSchema != nil {
		if raw, err := json.Marshal(req.RequestSchema); err == nil {
			fmt.Fprintf(&b, "Request schema: %s\n", raw)
		}
	}
	if req.ResponseSchema != nil {
		if raw, err := json.Marshal(req.ResponseSchema); err == nil {
			fmt.Fprintf(&b, "Response schema: %s\n", raw)
		}
	}
	return b.String()
}

// Fallback builds the deterministic description, for example
// "Retrieves a specific user by ID using GET method.".
func Fallback(method, path string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	segs := pattern.Segments(path)
	byID := len(segs) > 0 && pattern.IsParam(segs[len(segs)-1])
	resource := resourceName(segs)

	switch method {
	case http.MethodGet:
		if byID {
			return fmt.Sprintf("Retrieves a specific %s by ID using GET method.", singular(resource))
		}
		return fmt.Sprintf("Retrieves a list of %s using GET method.", resource)
	case http.MethodPost:
		return fmt.Sprintf("Creates a new %s using POST method.", singular(resource))
	case http.MethodPut, http.MethodPatch:
		return fmt.Sprintf("Updates a specific %s using %s method.", singular(resource), method)
	case http.MethodDelete:
		return fmt.Sprintf("Deletes a specific %s using DELETE method.", singular(resource))
	}
	return fmt.Sprintf("Handles %s requests using %s method.", resource, method)
}

func resourceName(segs []string) string {
	for i := len(segs) - 1; i >= 0; i-- {
		if !pattern.IsParam(segs[i]) {
			return strings.ToLower(segs[i])
		}
	}
	return "resource"
}

func singular(s string) string {
	switch {
	case strings.HasSuffix(s, "ies") && len(s) > 3:
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "ss"):
		return s
	case strings.HasSuffix(s, "s") && len(s) > 1:
		return s[:len(s)-1]
	}
	return s
}
