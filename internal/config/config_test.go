package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, Templates{Create: "create", Edit: "edit", View: "view"}, cfg.Templates)
	assert.Equal(t, " / ", cfg.QuoteSeparator)
	assert.Equal(t, ".annotator-hl", cfg.IgnoreSelector)
	assert.Equal(t, "view", cfg.EditCancel)
	assert.Empty(t, cfg.TemplateDir)
	assert.Empty(t, cfg.Journal)
}

func TestParse_Overrides(t *testing.T) {
	src := `
quote_separator: " | "
edit_cancel: "idle"
templates: view: "tooltip"
`
	cfg, err := Parse([]byte(src), "marginalia.cue")
	require.NoError(t, err)

	assert.Equal(t, " | ", cfg.QuoteSeparator)
	assert.Equal(t, "idle", cfg.EditCancel)
	assert.Equal(t, "tooltip", cfg.Templates.View)
	assert.Equal(t, "create", cfg.Templates.Create, "unset template ids keep their default")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"syntax", `quote_separator: `, ErrCodeBuildFailed},
		{"unknown field", `colour: "red"`, ErrCodeSchema},
		{"bad edit cancel", `edit_cancel: "close"`, ErrCodeSchema},
		{"empty template id", `templates: edit: ""`, ErrCodeSchema},
		{"wrong type", `journal: 3`, ErrCodeSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")
			require.Error(t, err)
			assert.True(t, IsLoadError(err, tt.code), "got %v", err)
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := Parse([]byte("quote_separator: \" / \"\nedit_cancel: \"close\"\n"), "pos.cue")
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	require.True(t, le.Pos.IsValid())
	assert.Equal(t, "pos.cue", le.Pos.Filename())
	assert.Equal(t, 2, le.Pos.Line())
	assert.Contains(t, le.Message, "edit_cancel")
	assert.Contains(t, err.Error(), "pos.cue:2:")
	assert.Contains(t, err.Error(), ErrCodeSchema)
}

func TestParse_UnknownFieldPosition(t *testing.T) {
	_, err := Parse([]byte("quote_separator: \" / \"\nhighlight_color: \"red\"\n"), "extra.cue")
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeSchema, le.Code)
	require.True(t, le.Pos.IsValid())
	assert.Equal(t, "extra.cue", le.Pos.Filename())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	src := `
template_dir: "templates"
journal: "trace.db"
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "templates"), cfg.TemplateDir)
	assert.Equal(t, filepath.Join(dir, "trace.db"), cfg.Journal)
}

func TestLoad_KeepsAbsoluteAndMemoryPaths(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "abs")
	path := filepath.Join(dir, DefaultFile)
	src := "template_dir: \"" + filepath.ToSlash(abs) + "\"\njournal: \":memory:\"\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(abs), filepath.ToSlash(cfg.TemplateDir))
	assert.Equal(t, ":memory:", cfg.Journal)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.cue"), []byte("package marginalia\n\nquote_separator: \" ; \"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates.cue"), []byte("package marginalia\n\ntemplates: create: \"pick\"\n"), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, " ; ", cfg.QuoteSeparator)
	assert.Equal(t, "pick", cfg.Templates.Create)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.True(t, IsLoadError(err, ErrCodeNotFound))
}

func TestLoadError_Format(t *testing.T) {
	err := &LoadError{Code: ErrCodeGeneric, Message: "boom"}
	assert.Equal(t, "E001: boom", err.Error())
}
