package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/lprior-repo/zjj/internal/models"
)

// schemaURL and schemaVersion identify the envelope shape for external
// consumers (spec §6: "schema-versioned envelope ($schema URL, _schema_
// version, then payload)").
const (
	schemaURL     = "https://zjj.dev/schema/response/v1"
	schemaVersion = "v1"
)

// recoverableError mirrors models.RecoverableError locally to avoid import
// cycles between output and store/models callers that only have an error
// value in hand. errors.As requires a concrete or pointer type target — the
// interface works here because Go's structural typing matches any
// implementor without an explicit cast to models.RecoverableError.
type recoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

var _ recoverableError = (models.RecoverableError)(nil)

// ErrorDetail is the "error" object of the envelope on failure (spec §6:
// "error: { code, message, exit_code, details?, suggestion? }").
type ErrorDetail struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	ExitCode   int               `json:"exit_code"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// Response is the schema-versioned JSON envelope every command emits
// (spec §6).
type Response struct {
	Schema        string      `json:"$schema"`
	SchemaVersion string      `json:"_schema_version"`
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorDetail `json:"error,omitempty"`
}

// Config holds output configuration.
type Config struct {
	Writer io.Writer
	Pretty bool
}

// DefaultConfig returns configuration using stdout and environment.
func DefaultConfig() Config {
	pretty := os.Getenv("ZJJ_PRETTY_JSON") == "1" || os.Getenv("ZJJ_PRETTY_JSON") == "true"
	return Config{
		Writer: os.Stdout,
		Pretty: pretty,
	}
}

// Success wraps a successful response with data.
func Success(data interface{}) Response {
	return Response{
		Schema:        schemaURL,
		SchemaVersion: schemaVersion,
		Success:       true,
		Data:          data,
	}
}

// Error wraps an error in a response, enriching with the RecoverableError
// taxonomy's code/context/suggestion when available (spec §6, §7). Plain
// errors fall back to exit code 1 ("user error") since an un-enriched error
// carries no taxonomy classification.
func Error(err error) Response {
	detail := &ErrorDetail{
		Message:  err.Error(),
		ExitCode: models.ExitCodeForError(err),
	}
	var re recoverableError
	if errors.As(err, &re) {
		detail.Code = re.ErrorCode()
		detail.Details = re.Context()
		detail.Suggestion = re.SuggestedAction()
	}
	if detail.Code == "" {
		detail.ExitCode = 1
	}
	return Response{
		Schema:        schemaURL,
		SchemaVersion: schemaVersion,
		Success:       false,
		Error:         detail,
	}
}

// PrintWith prints a value as JSON to the configured writer.
func PrintWith(cfg Config, v interface{}) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Print prints a value as JSON to stdout. Default to compact JSON to
// minimize output size for agent consumption; enable pretty JSON for
// humans via ZJJ_PRETTY_JSON=1. Per spec §6, in JSON mode stderr must stay
// empty and stdout carries exactly one JSON document — callers must not mix
// this with log output on the same stream.
func Print(v interface{}) error {
	return PrintWith(DefaultConfig(), v)
}

// PrintSuccess renders a successful result, honoring the active output mode
// (spec §7: JSON envelope on stdout, or one-line human rendering).
func PrintSuccess(data interface{}) error {
	return RenderSuccess(data)
}

// PrintError renders a failure, honoring the active output mode (spec §7:
// JSON envelope on stdout with stderr silent, or a one-line stderr message
// with stdout silent).
func PrintError(err error) error {
	return RenderError(err)
}
