package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    []Info
		wantErr bool
	}{
		{
			name:   "single GPU",
			output: "0, NVIDIA A100-SXM4-40GB, 40960, 8192, 45\n",
			want: []Info{
				{Index: 0, Name: "NVIDIA A100-SXM4-40GB", MemoryTotalMi: 40960, MemoryUsedMi: 8192, Utilization: 45},
			},
		},
		{
			name:   "multiple GPUs with blank lines",
			output: "0, NVIDIA H100, 81559, 0, 0\n\n1, NVIDIA H100, 81559, 1024, 99\n",
			want: []Info{
				{Index: 0, Name: "NVIDIA H100", MemoryTotalMi: 81559, Utilization: 0},
				{Index: 1, Name: "NVIDIA H100", MemoryTotalMi: 81559, MemoryUsedMi: 1024, Utilization: 99},
			},
		},
		{
			name:   "N/A fields",
			output: "0, Tesla K80, [N/A], [N/A], [N/A]",
			want:   []Info{{Index: 0, Name: "Tesla K80", Utilization: -1}},
		},
		{
			name:   "comma in name",
			output: "0, Vendor, Model X, 100, 50, 10",
			want:   []Info{{Index: 0, Name: "Vendor, Model X", MemoryTotalMi: 100, MemoryUsedMi: 50, Utilization: 10}},
		},
		{name: "empty output", output: "   \n"},
		{name: "command not found", output: "bash: nvidia-smi: command not found"},
		{name: "driver failure", output: "NVIDIA-SMI has failed because it couldn't communicate with the NVIDIA driver."},
		{name: "no devices", output: "No devices were found"},
		{name: "too few fields", output: "0, A100, 40960", wantErr: true},
		{name: "bad index", output: "x, A100, 40960, 0, 0", wantErr: true},
		{name: "bad memory", output: "0, A100, lots, 0, 0", wantErr: true},
		{name: "bad utilization", output: "0, A100, 1, 0, busy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetadata(t *testing.T) {
	md := Metadata([]Info{
		{Index: 0, Name: "NVIDIA A100", MemoryTotalMi: 40960, MemoryUsedMi: 8192, Utilization: 45.5},
		{Index: 1, Name: "Tesla K80", Utilization: -1},
	})

	assert.Equal(t, "2", md["gpu.count"])
	assert.Equal(t, "NVIDIA A100", md["gpu.0.name"])
	assert.Equal(t, "8192/40960 MiB", md["gpu.0.memory"])
	assert.Equal(t, "45.5%", md["gpu.0.utilization"])
	assert.Equal(t, "Tesla K80", md["gpu.1.name"])
	_, hasUtil := md["gpu.1.utilization"]
	assert.False(t, hasUtil)

	assert.Nil(t, Metadata(nil))
}

func TestInfoSummary(t *testing.T) {
	g := Info{Name: "NVIDIA A100", MemoryTotalMi: 40960, MemoryUsedMi: 8192, Utilization: 45}
	assert.Equal(t, "NVIDIA A100 8192/40960 MiB 45%", g.Summary())

	g.Utilization = -1
	assert.Equal(t, "NVIDIA A100 8192/40960 MiB", g.Summary())
}
