// Package sandbox runs requests in a fresh cloud micro-VM per invocation.
package sandbox

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

// Service is the sandbox provider. HTTPClient implements it against the REST
// gateway; tests substitute a fake.
type Service interface {
	Create(ctx context.Context, template string, timeout time.Duration) (string, error)
	Exec(ctx context.Context, id string, cmd Command) (*CommandResult, error)
	WriteFile(ctx context.Context, id, path string, data []byte) error
	ListFiles(ctx context.Context, id, dir string) ([]string, error)
	ReadFile(ctx context.Context, id, path string) ([]byte, error)
	Kill(ctx context.Context, id string) error
}

// Command is one process to start in a sandbox. Env is scoped to that
// process and travels in the request body.
type Command struct {
	Cmd     string            `json:"cmd"`
	Env     map[string]string `json:"envs,omitempty"`
	WorkDir string            `json:"cwd,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
}

// CommandResult is a finished sandbox process.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// HTTPClient talks to the sandbox REST gateway.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
	apiKey  string
}

// NewHTTPClient creates a client authenticated with apiKey.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		apiKey:  apiKey,
	}
}

func (c *HTTPClient) Create(ctx context.Context, template string, timeout time.Duration) (string, error) {
	body := map[string]interface{}{"templateID": template}
	if timeout > 0 {
		body["timeout"] = int(timeout.Seconds())
	}
	var out struct {
		SandboxID string `json:"sandboxID"`
	}
	if err := c.do(ctx, http.MethodPost, "/sandboxes", nil, body, &out, "create a sandbox"); err != nil {
		return "", err
	}
	if out.SandboxID == "" {
		return "", errors.New(errors.ErrExec, "Sandbox service returned no sandbox id", "")
	}
	return out.SandboxID, nil
}

func (c *HTTPClient) Exec(ctx context.Context, id string, cmd Command) (*CommandResult, error) {
	var out CommandResult
	if err := c.do(ctx, http.MethodPost, "/sandboxes/"+url.PathEscape(id)+"/commands", nil, cmd, &out, "run a command in the sandbox"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) WriteFile(ctx context.Context, id, path string, data []byte) error {
	q := url.Values{"path": {path}}
	return c.do(ctx, http.MethodPut, "/sandboxes/"+url.PathEscape(id)+"/files", q, rawBody(data), nil, "upload "+path)
}

func (c *HTTPClient) ListFiles(ctx context.Context, id, dir string) ([]string, error) {
	q := url.Values{"path": {dir}, "recursive": {"true"}}
	var out struct {
		Entries []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/sandboxes/"+url.PathEscape(id)+"/files/list", q, nil, &out, "list "+dir); err != nil {
		return nil, err
	}
	var files []string
	for _, e := range out.Entries {
		if e.Type == "" || e.Type == "file" {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

func (c *HTTPClient) ReadFile(ctx context.Context, id, path string) ([]byte, error) {
	q := url.Values{"path": {path}}
	var out rawBody
	if err := c.do(ctx, http.MethodGet, "/sandboxes/"+url.PathEscape(id)+"/files", q, nil, &out, "download "+path); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Kill(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/sandboxes/"+url.PathEscape(id), nil, nil, nil, "kill sandbox "+id)
	if e := errors.As(err); e != nil && e.Code == errors.ErrExec && strings.Contains(e.Message, "404") {
		return nil
	}
	return err
}

// rawBody is sent and received as application/octet-stream.
type rawBody []byte

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out interface{}, what string) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch v := in.(type) {
	case nil:
	case rawBody:
		body = bytes.NewReader(v)
		contentType = "application/octet-stream"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "Couldn't encode the sandbox request")
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "Couldn't build the sandbox request")
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return transportError(ctx, what, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return transportError(ctx, what, err)
	}
	if resp.StatusCode >= 400 {
		return statusError(what, resp.StatusCode, data)
	}

	switch o := out.(type) {
	case nil:
	case *rawBody:
		*o = data
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("Couldn't read the sandbox response to %s", what), "")
		}
	}
	return nil
}

func statusError(what string, code int, body []byte) *errors.Error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	msg := fmt.Sprintf("Sandbox service couldn't %s (%d)", what, code)
	if detail != "" {
		msg += ": " + detail
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.New(errors.ErrAuth, msg, "Check that E2B_API_KEY is valid.")
	case code == http.StatusTooManyRequests || code >= 500:
		return errors.New(errors.ErrConnectivity, msg, "The sandbox service is busy or down. Try again shortly.")
	}
	return errors.New(errors.ErrExec, msg, "")
}

func transportError(ctx context.Context, what string, err error) *errors.Error {
	switch {
	case stderrors.Is(ctx.Err(), context.Canceled):
		return errors.WrapWithCode(err, errors.ErrCancelled, fmt.Sprintf("Cancelled while trying to %s", what), "")
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.WrapWithCode(err, errors.ErrTimeout, fmt.Sprintf("Timed out trying to %s", what), "")
	}
	var te interface{ Timeout() bool }
	if stderrors.As(err, &te) && te.Timeout() {
		return errors.WrapWithCode(err, errors.ErrTimeout, fmt.Sprintf("Timed out trying to %s", what), "")
	}
	return errors.WrapWithCode(err, errors.ErrConnectivity,
		fmt.Sprintf("Couldn't reach the sandbox service to %s", what),
		"Check your network connection and try again.")
}

var _ Service = (*HTTPClient)(nil)
