package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

func TestLoadDir_Counter(t *testing.T) {
	loaded, err := LoadDir(filepath.Join("..", "..", "testdata", "models", "counter"))
	require.NoError(t, err)

	assert.Equal(t, 1, loaded.Files)
	assert.Equal(t, "counter", loaded.Model.Name)
	require.Len(t, loaded.Model.Variants, 1)

	v := loaded.Model.Variants[0]
	assert.Equal(t, "counter", v.Name)
	assert.Equal(t, ir.KindEntity, v.Kind)
	assert.Equal(t, []string{"counter"}, v.DependsOn)
	require.NotNil(t, v.Action)
	assert.Equal(t, ir.ActionIncrement, v.Action.Kind)
	require.NotNil(t, v.Action.Limit)
	assert.Equal(t, 1.0, *v.Action.Limit)

	require.Len(t, loaded.Model.Seeds, 1)
	x, ok := ir.AsFloat(loaded.Model.Seeds[0].Value)
	require.True(t, ok)
	assert.Zero(t, x)
	assert.Len(t, loaded.Hash, 64)
	assert.Empty(t, Validate(loaded.Model))
}

func TestLoadDir_Pipeline(t *testing.T) {
	loaded, err := LoadDir(filepath.Join("..", "..", "testdata", "models", "pipeline"))
	require.NoError(t, err)

	var names []string
	for _, v := range loaded.Model.Variants {
		names = append(names, v.Name)
	}
	assert.ElementsMatch(t, []string{"tick", "level", "total", "alarm"}, names)
	assert.Len(t, loaded.Model.Seeds, 5)
	assert.Empty(t, Validate(loaded.Model))
}

func TestLoadDir_Broken(t *testing.T) {
	loaded, err := LoadDir(filepath.Join("..", "..", "testdata", "models", "broken"))
	require.NoError(t, err)

	codes := map[string]bool{}
	for _, e := range Validate(loaded.Model) {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrInvalidAction], "codes: %v", codes)
	assert.True(t, codes[ErrUndefinedVariant], "codes: %v", codes)
}

func TestLoadDir_DefaultsNameToDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "thermostat")
	require.NoError(t, os.Mkdir(dir, 0755))
	src := `package model

variant: temp: kind: "message"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.cue"), []byte(src), 0644))

	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "thermostat", loaded.Model.Name)
}

func TestLoadDir_Errors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
	})

	t.Run("no cue files", func(t *testing.T) {
		_, err := LoadDir(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no CUE files")
	})

	t.Run("not a directory", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "model.cue")
		require.NoError(t, os.WriteFile(f, []byte("package model\n"), 0644))
		_, err := LoadDir(f)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})

	t.Run("no variants", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "model.cue"), []byte("package model\n\nmodel: \"empty\"\n"), 0644))
		_, err := LoadDir(dir)
		require.Error(t, err)
		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "variant", ce.Field)
	})
}

func TestModelHash(t *testing.T) {
	a, err := LoadDir(filepath.Join("..", "..", "testdata", "models", "counter"))
	require.NoError(t, err)

	moved := *a.Model
	moved.Variants = append([]ir.VariantSpec(nil), a.Model.Variants...)
	moved.Variants[0].Line += 10

	h, err := ModelHash(&moved)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, h, "source lines must not affect the hash")

	moved.Variants[0].Action = &ir.ActionSpec{Kind: ir.ActionFollow}
	h, err = ModelHash(&moved)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, h)
}
