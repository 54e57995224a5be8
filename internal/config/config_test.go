package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aotlift/internal/lifter"
)

const sample = `
binary: lib/libgame.so
metadata: /abs/metadata.yaml
arch: arm64
out: out
workers: 4
mode: strict
max_expansion: 0x2000
functions:
  - name: Game.Player::Tick
  - address: 0x1234
    size: 64
`

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aotlift.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, filepath.Join(dir, "lib/libgame.so"), c.Binary)
	assert.Equal(t, "/abs/metadata.yaml", c.Metadata)
	assert.Equal(t, filepath.Join(dir, "out"), c.Out)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, uint64(0x2000), c.MaxExpansion)
	require.Len(t, c.Functions, 2)
	assert.Equal(t, "Game.Player::Tick", c.Functions[0].Name)
	assert.EqualValues(t, 0x1234, c.Functions[1].Address)
	assert.Equal(t, uint64(64), c.Functions[1].Size)

	opts, err := c.LifterOptions()
	require.NoError(t, err)
	assert.Equal(t, lifter.Strict, opts.Mode)
	assert.Equal(t, uint64(0x2000), opts.MaxExpansion)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("binary: a\nworkerz: 3\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
		ok   bool
	}{
		{name: "minimal", cfg: Config{Binary: "a", Metadata: "m"}, ok: true},
		{name: "no binary", cfg: Config{Metadata: "m"}, want: ErrNoBinary},
		{name: "no metadata", cfg: Config{Binary: "a"}, want: ErrNoMetadata},
		{name: "bad arch", cfg: Config{Binary: "a", Metadata: "m", Arch: "mips"}},
		{name: "bad mode", cfg: Config{Binary: "a", Metadata: "m", Mode: "yolo"}},
		{name: "negative workers", cfg: Config{Binary: "a", Metadata: "m", Workers: -1}},
		{name: "empty function", cfg: Config{Binary: "a", Metadata: "m", Functions: []Function{{Size: 4}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			switch {
			case tt.ok:
				assert.NoError(t, err)
			case tt.want != nil:
				assert.ErrorIs(t, err, tt.want)
			default:
				assert.Error(t, err)
			}
		})
	}
}
