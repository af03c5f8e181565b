package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100000, c.MaxRows)
	assert.Equal(t, 0.5, c.HighLoadingThreshold)
	assert.Equal(t, "varimax", c.Rotation)
	assert.Equal(t, "text", c.OutputFormat)
	assert.Equal(t, 8080, c.ServerPort)
	assert.True(t, c.ServerMetrics)
	assert.Equal(t, filepath.Join(home, DirName, "studies"), c.StudiesDir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_rows: 10\nrotation: none\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, c.MaxRows)
	assert.Equal(t, "none", c.Rotation)

	t.Setenv("SURVEYLENS_MAX_ROWS", "25")
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, c.MaxRows)
}

func TestSaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	c, err := Load("")
	require.NoError(t, err)
	c.HighLoadingThreshold = 0.4
	c.Delimiter = ";"
	require.NoError(t, Save(c, ""))

	_, err = os.Stat(filepath.Join(home, DirName, "config.yaml"))
	require.NoError(t, err)
	again, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.4, again.HighLoadingThreshold)
	assert.Equal(t, ';', Rune(again.Delimiter))
}

func TestValidate(t *testing.T) {
	base := Global{Rotation: "varimax", OutputFormat: "text", HighLoadingThreshold: 0.5}
	require.NoError(t, base.Validate())

	bad := []func(g *Global){
		func(g *Global) { g.Rotation = "promax" },
		func(g *Global) { g.OutputFormat = "xml" },
		func(g *Global) { g.HighLoadingThreshold = 1.5 },
		func(g *Global) { g.Delimiter = ";;" },
		func(g *Global) { g.MaxRows = -1 },
		func(g *Global) { g.ServerPort = 70000 },
	}
	for i, mutate := range bad {
		g := base
		mutate(&g)
		assert.Error(t, g.Validate(), "case %d", i)
	}
	assert.Equal(t, '\t', Rune(`\t`))
	assert.Equal(t, rune(0), Rune(""))
}
