package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const quickNote = `name: quick_note
description: "Select a word and save a note on it"
document: "hello brave new world"
steps:
  - action: select
    ranges: [[6, 11]]
    at: {x: 4, y: 8}
  - action: confirm
  - action: save
    fields:
      text: "a note"
assertions:
  - type: state
    state: viewing
  - type: export_contains
    id: 1
    quote: brave
`

const wrongExpectations = `name: wrong_expectations
description: "Asserts a state the session never reaches"
document: "hello"
steps:
  - action: select
    ranges: [[0, 5]]
assertions:
  - type: state
    state: idle
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns its stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
