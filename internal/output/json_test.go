package output

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/lprior-repo/zjj/internal/models"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	original := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = original }()

	fn()

	require.NoError(t, w.Close())

	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(b)
}

func TestSuccessAndError(t *testing.T) {
	s := Success(map[string]string{"k": "v"})
	require.Equal(t, schemaVersion, s.SchemaVersion)
	require.Equal(t, schemaURL, s.Schema)
	require.True(t, s.Success)
	require.NotNil(t, s.Data)
	require.Nil(t, s.Error)

	e := Error(errors.New("boom"))
	require.Equal(t, schemaVersion, e.SchemaVersion)
	require.False(t, e.Success)
	require.Nil(t, e.Data)
	require.Equal(t, "boom", e.Error.Message)
	require.Equal(t, 1, e.Error.ExitCode)
}

func TestPrintWith_CompactJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Writer: &buf, Pretty: false}

	err := PrintWith(cfg, map[string]string{"hello": "world"})
	require.NoError(t, err)
	require.Equal(t, "{\"hello\":\"world\"}\n", buf.String())
}

func TestPrintWith_PrettyJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Writer: &buf, Pretty: true}

	err := PrintWith(cfg, map[string]string{"hello": "world"})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "\n  \"hello\": \"world\"\n")
	require.True(t, strings.HasPrefix(out, "{\n"))
}

func TestPrint_DefaultCompactJSON(t *testing.T) {
	t.Setenv("ZJJ_PRETTY_JSON", "")

	out := captureStdout(t, func() {
		err := Print(map[string]string{"hello": "world"})
		require.NoError(t, err)
	})

	require.Equal(t, "{\"hello\":\"world\"}\n", out)
}

func TestPrint_PrettyJSONEnabled(t *testing.T) {
	for _, value := range []string{"1", "true"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("ZJJ_PRETTY_JSON", value)

			out := captureStdout(t, func() {
				err := Print(map[string]string{"hello": "world"})
				require.NoError(t, err)
			})

			require.Contains(t, out, "\n  \"hello\": \"world\"\n")
			require.True(t, strings.HasPrefix(out, "{\n"))
		})
	}
}

func TestPrintSuccessAndPrintError(t *testing.T) {
	t.Setenv("ZJJ_PRETTY_JSON", "")

	successOut := captureStdout(t, func() {
		err := PrintSuccess(map[string]int{"count": 2})
		require.NoError(t, err)
	})
	require.Contains(t, successOut, `"_schema_version":"v1"`)
	require.Contains(t, successOut, `"success":true`)
	require.Contains(t, successOut, `"count":2`)

	errorOut := captureStdout(t, func() {
		err := PrintError(errors.New("bad things"))
		require.NoError(t, err)
	})
	require.Contains(t, errorOut, `"_schema_version":"v1"`)
	require.Contains(t, errorOut, `"success":false`)
	require.Contains(t, errorOut, `"message":"bad things"`)
}

func TestError_EnrichedRecoverableError(t *testing.T) {
	t.Run("plain error carries no taxonomy code", func(t *testing.T) {
		resp := Error(errors.New("something broke"))
		require.False(t, resp.Success)
		require.Equal(t, "something broke", resp.Error.Message)
		require.Empty(t, resp.Error.Code)
		require.Nil(t, resp.Error.Details)
		require.Empty(t, resp.Error.Suggestion)
		require.Equal(t, 1, resp.Error.ExitCode)
	})

	t.Run("recoverable error populates all enriched fields", func(t *testing.T) {
		re := models.NewSessionNotFoundError("demo")
		resp := Error(re)
		require.False(t, resp.Success)
		require.Equal(t, re.Error(), resp.Error.Message)
		require.Equal(t, "SESSION_NOT_FOUND", resp.Error.Code)
		require.Equal(t, map[string]string{"name": "demo"}, resp.Error.Details)
		require.NotEmpty(t, resp.Error.Suggestion)
		require.Equal(t, 3, resp.Error.ExitCode)
	})

	t.Run("recoverable error marshals enriched fields to JSON", func(t *testing.T) {
		t.Setenv("ZJJ_PRETTY_JSON", "")
		re := models.NewLockHeldByOtherError("ws1", "agent-1", "2026-07-30T00:00:00Z")
		var buf bytes.Buffer
		cfg := Config{Writer: &buf, Pretty: false}
		err := PrintWith(cfg, Error(re))
		require.NoError(t, err)
		out := buf.String()
		require.Contains(t, out, `"code":"LOCK_HELD_BY_OTHER"`)
		require.Contains(t, out, `"holder":"agent-1"`)
		require.Contains(t, out, `"exit_code":4`)
	})

	t.Run("plain error omits enriched fields from JSON", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := Config{Writer: &buf, Pretty: false}
		err := PrintWith(cfg, Error(errors.New("plain")))
		require.NoError(t, err)
		out := buf.String()
		require.NotContains(t, out, `"code"`)
		require.NotContains(t, out, `"suggestion"`)
		require.NotContains(t, out, `"details"`)
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Run("default compact", func(t *testing.T) {
		t.Setenv("ZJJ_PRETTY_JSON", "")
		cfg := DefaultConfig()
		require.Equal(t, os.Stdout, cfg.Writer)
		require.False(t, cfg.Pretty)
	})

	t.Run("pretty enabled with 1", func(t *testing.T) {
		t.Setenv("ZJJ_PRETTY_JSON", "1")
		cfg := DefaultConfig()
		require.Equal(t, os.Stdout, cfg.Writer)
		require.True(t, cfg.Pretty)
	})

	t.Run("pretty enabled with true", func(t *testing.T) {
		t.Setenv("ZJJ_PRETTY_JSON", "true")
		cfg := DefaultConfig()
		require.Equal(t, os.Stdout, cfg.Writer)
		require.True(t, cfg.Pretty)
	})
}
