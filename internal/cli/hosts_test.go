package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestHosts(t *testing.T, path string) *config.HostStore {
	t.Helper()
	hosts, err := config.LoadHosts(path, config.WithSSHConfigFile(filepath.Join(t.TempDir(), "none")), config.WithDefaultUser("ml"))
	require.NoError(t, err)
	return hosts
}

func TestHostsAdd(t *testing.T) {
	resetGlobals(t)
	jsonOutput = false
	path := filepath.Join(t.TempDir(), "hosts.yaml")

	var out bytes.Buffer
	err := hostsAdd(&out, path, loadTestHosts(t, path), HostAddOptions{
		Name:        "dgx",
		Hostname:    "dgx.lab",
		User:        "ml",
		GPU:         true,
		CUDAPath:    "/usr/local/cuda",
		Environment: map[string]string{"CUDA_VISIBLE_DEVICES": "0"},
		ShareLocal:  "/mnt/share",
		ShareRemote: "/srv/share",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Added host 'dgx'")

	h, ok := loadTestHosts(t, path).Get("dgx")
	require.True(t, ok)
	assert.Equal(t, "dgx.lab", h.Hostname)
	assert.True(t, h.GPU)
	assert.Equal(t, "0", h.Environment["CUDA_VISIBLE_DEVICES"])
	require.NotNil(t, h.FileShare)
	assert.Equal(t, "/srv/share", h.FileShare.RemotePath)
}

func TestHostsAdd_ExistingNeedsForce(t *testing.T) {
	resetGlobals(t)
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	opts := HostAddOptions{Name: "ws", Hostname: "10.0.0.5", User: "me"}
	require.NoError(t, hostsAdd(&bytes.Buffer{}, path, loadTestHosts(t, path), opts))

	opts.Hostname = "10.0.0.6"
	err := hostsAdd(&bytes.Buffer{}, path, loadTestHosts(t, path), opts)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	opts.Force = true
	require.NoError(t, hostsAdd(&bytes.Buffer{}, path, loadTestHosts(t, path), opts))
	h, _ := loadTestHosts(t, path).Get("ws")
	assert.Equal(t, "10.0.0.6", h.Hostname)
}

func TestHostsAdd_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	tests := []struct {
		name string
		opts HostAddOptions
	}{
		{"no name", HostAddOptions{Hostname: "a"}},
		{"name with space", HostAddOptions{Name: "my host", Hostname: "a"}},
		{"no hostname", HostAddOptions{Name: "a"}},
		{"relative cuda path", HostAddOptions{Name: "a", Hostname: "a", User: "u", CUDAPath: "cuda"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hostsAdd(&bytes.Buffer{}, path, loadTestHosts(t, path), tt.opts)
			assert.True(t, errors.IsCode(err, errors.ErrConfig), "got %v", err)
		})
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "invalid hosts must not create the file")
}

func TestHostsRemove(t *testing.T) {
	resetGlobals(t)
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	require.NoError(t, hostsAdd(&bytes.Buffer{}, path, loadTestHosts(t, path),
		HostAddOptions{Name: "dgx", Hostname: "dgx.lab", User: "ml"}))

	err := hostsRemove(&bytes.Buffer{}, path, loadTestHosts(t, path), "nope")
	require.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, errors.As(err).Suggestion, "dgx")

	var out bytes.Buffer
	require.NoError(t, hostsRemove(&out, path, loadTestHosts(t, path), "dgx"))
	assert.Contains(t, out.String(), "Removed host 'dgx'")
	assert.Equal(t, 0, loadTestHosts(t, path).Len())
}

func TestHostsList(t *testing.T) {
	resetGlobals(t)
	hosts := config.NewHostStore(
		config.HostConfig{Name: "dgx", Hostname: "dgx.lab", User: "ml", GPU: true},
		config.HostConfig{Name: "ws", Hostname: "10.0.0.5", Port: 2222, User: "me",
			FileShare: &config.FileShare{LocalMount: "/mnt/ws", RemotePath: "/srv/ws"}},
	)

	var out bytes.Buffer
	require.NoError(t, hostsList(&out, hosts))
	assert.Contains(t, out.String(), "ml@dgx.lab:22")
	assert.Contains(t, out.String(), "me@10.0.0.5:2222")
	assert.Contains(t, out.String(), "/mnt/ws -> /srv/ws")

	jsonOutput = true
	out.Reset()
	require.NoError(t, hostsList(&out, hosts))
	env := decodeEnvelope(t, out.Bytes())
	data := env["data"].([]interface{})
	require.Len(t, data, 2)
	first := data[0].(map[string]interface{})
	assert.Equal(t, "dgx", first["name"])
	assert.Equal(t, float64(22), first["port"])
}

func TestHostsList_Empty(t *testing.T) {
	resetGlobals(t)
	var out bytes.Buffer
	require.NoError(t, hostsList(&out, config.NewHostStore()))
	assert.Contains(t, out.String(), "No hosts configured")
}
