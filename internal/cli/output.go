package cli

import (
	"encoding/json"
	"io"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/request"
)

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
// All --json output uses this envelope.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
// Code is one of the errors package codes (PARSE, AUTH, ...).
type JSONError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
	Retryable  bool        `json:"retryable,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// ResultJSON is a run's result as it appears under "data".
type ResultJSON struct {
	ExitCode        *int              `json:"exit_code"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	Metadata        map[string]string `json:"metadata"`
	DownloadedFiles []string          `json:"downloaded_files"`
}

// RequestJSON is a parsed request as printed by `parse --json`.
type RequestJSON struct {
	Backend    string `json:"backend"`
	Agent      string `json:"agent"`
	Tier       string `json:"tier"`
	Payload    string `json:"payload"`
	AutoClose  bool   `json:"auto_close"`
	TargetHost string `json:"target_host,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
}

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: true, Data: data})
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: false, Error: ErrorToJSON(err)})
}

// WriteJSONResult writes a run result. Captured output is included even
// when the run failed.
func WriteJSONResult(w io.Writer, res *request.Result) error {
	env := JSONEnvelope{Success: res.Success, Data: resultToJSON(res)}
	if res.Err != nil {
		env.Error = ErrorToJSON(res.Err)
	}
	return writeJSONEnvelope(w, env)
}

// writeJSONEnvelope writes the envelope with consistent formatting.
func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON converts a Go error to a JSONError. Errors without a code
// are reported as EXEC.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}
	fe := errors.As(err)
	return &JSONError{
		Code:       fe.Code,
		Message:    fe.Message,
		Suggestion: fe.Suggestion,
		Retryable:  fe.Retryable(),
	}
}

func resultToJSON(res *request.Result) ResultJSON {
	out := ResultJSON{
		ExitCode:        res.ExitCode,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		Metadata:        res.Metadata,
		DownloadedFiles: res.DownloadedFiles,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if out.DownloadedFiles == nil {
		out.DownloadedFiles = []string{}
	}
	return out
}

func requestToJSON(req request.Request) RequestJSON {
	return RequestJSON{
		Backend:    string(req.Backend()),
		Agent:      string(req.Agent()),
		Tier:       string(req.Tier()),
		Payload:    req.Payload(),
		AutoClose:  req.AutoClose(),
		TargetHost: req.TargetHost(),
		WorkingDir: req.WorkingDir(),
	}
}
