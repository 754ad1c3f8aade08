package agent

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rileyhilliard/forkterm/internal/errors"
)

// DefaultMaxTokens caps API responses.
const DefaultMaxTokens = 4096

// Default provider endpoints.
var DefaultBaseURLs = map[Provider]string{
	ProviderAnthropic: "https://api.anthropic.com",
	ProviderGemini:    "https://generativelanguage.googleapis.com",
	ProviderOpenAI:    "https://api.openai.com",
}

// APIClient talks to the provider HTTP APIs directly. It is the fallback when
// an agent's CLI isn't available in the execution environment.
type APIClient struct {
	HTTP      *http.Client
	BaseURLs  map[Provider]string
	MaxTokens int
}

// NewAPIClient creates a client with the default endpoints.
func NewAPIClient(timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &APIClient{
		HTTP:      &http.Client{Timeout: timeout},
		BaseURLs:  DefaultBaseURLs,
		MaxTokens: DefaultMaxTokens,
	}
}

type providerAdapter struct {
	endpoint      func(base, model string) string
	buildRequest  func(model, prompt string, maxTokens int) ([]byte, error)
	parseResponse func([]byte) (string, error)
	setHeaders    func(req *http.Request, apiKey string)
}

func adapterFor(p Provider) (providerAdapter, bool) {
	switch p {
	case ProviderAnthropic:
		return providerAdapter{
			endpoint:      func(base, _ string) string { return base + "/v1/messages" },
			buildRequest:  buildAnthropicRequest,
			parseResponse: parseAnthropicResponse,
			setHeaders: func(req *http.Request, key string) {
				req.Header.Set("x-api-key", key)
				req.Header.Set("anthropic-version", "2023-06-01")
			},
		}, true
	case ProviderOpenAI:
		return providerAdapter{
			endpoint:      func(base, _ string) string { return base + "/v1/chat/completions" },
			buildRequest:  buildChatCompletionRequest,
			parseResponse: parseChatCompletionResponse,
			setHeaders: func(req *http.Request, key string) {
				req.Header.Set("authorization", "Bearer "+key)
			},
		}, true
	case ProviderGemini:
		return providerAdapter{
			endpoint: func(base, model string) string {
				return base + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
			},
			buildRequest:  buildGeminiRequest,
			parseResponse: parseGeminiResponse,
			setHeaders: func(req *http.Request, key string) {
				req.Header.Set("x-goog-api-key", key)
			},
		}, true
	}
	return providerAdapter{}, false
}

// Complete sends prompt to the spec's provider and returns the reply text.
func (c *APIClient) Complete(ctx context.Context, spec Spec, model, apiKey, prompt string) (string, error) {
	adapter, ok := adapterFor(spec.Provider)
	if !ok {
		return "", errors.New(errors.ErrConfig,
			fmt.Sprintf("No API client for provider '%s'", spec.Provider), "")
	}
	if apiKey == "" {
		return "", errors.New(errors.ErrAuth,
			fmt.Sprintf("%s is required to call the %s API", spec.CredentialEnv, spec.Provider),
			fmt.Sprintf("Set %s in your environment, keychain, or .env file.", spec.CredentialEnv))
	}

	base := c.BaseURLs[spec.Provider]
	if base == "" {
		base = DefaultBaseURLs[spec.Provider]
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	body, err := adapter.buildRequest(model, prompt, maxTokens)
	if err != nil {
		return "", errors.Wrap(err, "Couldn't encode the API request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, adapter.endpoint(strings.TrimRight(base, "/"), model), bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "Couldn't build the API request")
	}
	req.Header.Set("content-type", "application/json")
	adapter.setHeaders(req, apiKey)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", transportError(ctx, spec.Provider, err)
	}
	defer resp.Body.Close()

	var responseBody bytes.Buffer
	if _, err := responseBody.ReadFrom(io.LimitReader(resp.Body, 16<<20)); err != nil {
		return "", transportError(ctx, spec.Provider, err)
	}

	if resp.StatusCode >= 400 {
		return "", statusError(spec, resp.Status, resp.StatusCode)
	}

	content, err := adapter.parseResponse(responseBody.Bytes())
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Couldn't read the %s API response", spec.Provider), "")
	}
	return content, nil
}

func statusError(spec Spec, status string, code int) *errors.Error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.New(errors.ErrAuth,
			fmt.Sprintf("%s API rejected the credential (%s)", spec.Provider, status),
			fmt.Sprintf("Check that %s is valid and has API access.", spec.CredentialEnv))
	case code == http.StatusTooManyRequests || code >= 500:
		return errors.New(errors.ErrConnectivity,
			fmt.Sprintf("%s API is unavailable (%s)", spec.Provider, status),
			"Wait a moment and try again.")
	}
	return errors.New(errors.ErrExec,
		fmt.Sprintf("%s API request failed (%s)", spec.Provider, status), "")
}

func transportError(ctx context.Context, p Provider, err error) *errors.Error {
	switch {
	case stderrors.Is(ctx.Err(), context.Canceled):
		return errors.WrapWithCode(err, errors.ErrCancelled, fmt.Sprintf("%s API call cancelled", p), "")
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err):
		return errors.WrapWithCode(err, errors.ErrTimeout, fmt.Sprintf("%s API call timed out", p), "")
	}
	return errors.WrapWithCode(err, errors.ErrConnectivity,
		fmt.Sprintf("Couldn't reach the %s API", p),
		"Check your network connection and try again.")
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return stderrors.As(err, &te) && te.Timeout()
}

func buildAnthropicRequest(model, prompt string, maxTokens int) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]interface{}{
			{"role": "user", "content": []map[string]string{{"type": "text", "text": prompt}}},
		},
	})
}

func parseAnthropicResponse(body []byte) (string, error) {
	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	var parts []string
	for _, c := range response.Content {
		if c.Type == "" || c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}

func buildChatCompletionRequest(model, prompt string, maxTokens int) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"model":                 model,
		"max_completion_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
}

func parseChatCompletionResponse(body []byte) (string, error) {
	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func buildGeminiRequest(_ string, prompt string, maxTokens int) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]int{"maxOutputTokens": maxTokens},
	})
}

func parseGeminiResponse(body []byte) (string, error) {
	var response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response.Candidates) == 0 {
		return "", nil
	}
	var parts []string
	for _, p := range response.Candidates[0].Content.Parts {
		parts = append(parts, p.Text)
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}
