package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/interpose/internal/gen"
)

func TestParseCLIConfig(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
		expected    *CLIConfig
	}{
		{
			name: "flags",
			args: []string{"-p", "./internal/orders", "-t", "OrderService", "-i", "Auditor"},
			expected: &CLIConfig{
				Package:    "./internal/orders",
				Types:      []string{"OrderService"},
				Interfaces: []string{"Auditor"},
				Output:     "proxies_gen.go",
				LogLevel:   "info",
			},
		},
		{
			name: "config with watch",
			args: []string{"--config", "interpose.yaml", "--watch", "-l", "debug"},
			expected: &CLIConfig{
				Types:      []string{},
				Interfaces: []string{},
				Output:     "proxies_gen.go",
				Config:     "interpose.yaml",
				Watch:      true,
				LogLevel:   "debug",
			},
		},
		{
			name: "comma separated types",
			args: []string{"-p", "./x", "--type", "A,B+C", "-o", "stubs.go"},
			expected: &CLIConfig{
				Package:    "./x",
				Types:      []string{"A", "B+C"},
				Interfaces: []string{},
				Output:     "stubs.go",
				LogLevel:   "info",
			},
		},
		{name: "nothing to do", args: []string{}, expectError: true},
		{name: "package without types", args: []string{"-p", "./x"}, expectError: true},
		{name: "watch without config", args: []string{"-p", "./x", "-t", "A", "-w"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			cli, err := parseCLIConfig(cmd)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cli)
		})
	}
}

func TestBuildEntriesFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "interpose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
generate:
  - package: ./internal/orders
    types: [OrderService]
    interfaces: [Auditor]
`), 0o600))

	entries, wd, err := buildEntries(&CLIConfig{Config: path, Package: "./extra", Types: []string{"Extra"}, Output: "x_gen.go"})
	require.NoError(t, err)
	assert.Equal(t, dir, wd)
	require.Len(t, entries, 2)
	assert.Equal(t, "./internal/orders", entries[0].Package)
	assert.Equal(t, "proxies_gen.go", entries[0].Output)
	assert.Equal(t, []string{"Auditor"}, entries[0].Interfaces)
	assert.Equal(t, "x_gen.go", entries[1].Output)
}

func TestBuildEntriesEmptyConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interpose.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	_, _, err := buildEntries(&CLIConfig{Config: path})
	assert.ErrorContains(t, err, "no generate targets")
}

func TestWatchPaths(t *testing.T) {
	paths := watchPaths("cfg.yaml", []gen.Result{
		{Path: filepath.Join("a", "proxies_gen.go")},
		{Path: filepath.Join("a", "other_gen.go")},
		{Path: filepath.Join("b", "proxies_gen.go")},
	})
	assert.Equal(t, []string{"cfg.yaml", "a", "b"}, paths)
}

func TestSourceFile(t *testing.T) {
	assert.True(t, sourceFile("/src/orders.go"))
	assert.False(t, sourceFile("/src/proxies_gen.go"))
	assert.False(t, sourceFile("/src/orders_test.go"))
	assert.False(t, sourceFile("/src/interpose.yaml"))
}

func TestRunGenerate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "greeter_gen.go")
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--package", "github.com/polisai/interpose/internal/fixtures",
		"--type", "Greeter+Closer",
		"--output", out,
		"--log-level", "error",
	})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "type greeterCloserProxy struct")
}
