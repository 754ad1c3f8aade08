package cli

import (
	"bytes"
	"testing"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand_JSON(t *testing.T) {
	resetGlobals(t)
	jsonOutput = true
	p := intent.NewParser(intent.WithWorkingDir("/work"))

	var out bytes.Buffer
	require.NoError(t, parseCommand(&out, p, "fork terminal use gemini in sandbox to summarize data.csv auto-close"))

	env := decodeEnvelope(t, out.Bytes())
	data := env["data"].(map[string]interface{})
	assert.Equal(t, "sandbox", data["backend"])
	assert.Equal(t, "gemini", data["agent"])
	assert.Equal(t, "default", data["tier"])
	assert.Equal(t, "summarize data.csv", data["payload"])
	assert.Equal(t, true, data["auto_close"])
	assert.Equal(t, "/work", data["working_dir"])
	assert.NotContains(t, data, "target_host")
}

func TestParseCommand_Human(t *testing.T) {
	resetGlobals(t)
	jsonOutput = false
	p := intent.NewParser(intent.WithKnownHosts([]string{"dgx"}))

	var out bytes.Buffer
	require.NoError(t, parseCommand(&out, p, "fork terminal on dgx: nvidia-smi"))

	s := out.String()
	assert.Contains(t, s, "ssh")
	assert.Contains(t, s, "dgx")
	assert.Contains(t, s, `"nvidia-smi"`)
	assert.Less(t, bytes.Index(out.Bytes(), []byte("backend")), bytes.Index(out.Bytes(), []byte("host")))
}

func TestParseCommand_Error(t *testing.T) {
	resetGlobals(t)
	err := parseCommand(&bytes.Buffer{}, intent.NewParser(), "  ")
	assert.True(t, errors.IsCode(err, errors.ErrParse))
}
