// internal/checkpoint/extractor_test.go
package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestExtractDir_NumericOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10_drawed.png.text", "click<7>")
	writeFile(t, dir, "2_drawed.png.text", "textbox<3>|fuzzy<-1>")
	writeFile(t, dir, "1.text", "activity<-1>")
	writeFile(t, dir, "1.png", "not an annotation")
	writeFile(t, dir, "notes.txt", "ignored")

	ex := NewExtractor(zaptest.NewLogger(t))
	anns, err := ex.ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, anns, 3)

	assert.Equal(t, []int{1, 2, 10}, []int{anns[0].StateIndex, anns[1].StateIndex, anns[2].StateIndex},
		"steps must follow the numeric index, not lexical listing order")
	assert.Equal(t, schemas.KeywordClick, anns[2].Checkpoints[0].Keyword)
	assert.Equal(t, 10, anns[2].Checkpoints[0].StateIndex)
}

func TestExtractDir_Errors(t *testing.T) {
	t.Run("malformed token names the file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "3_drawed.png.text", "textbox<ten>")

		_, err := NewExtractor(zaptest.NewLogger(t)).ExtractDir(dir)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrCorruptFixture)
		assert.Contains(t, err.Error(), "3_drawed.png.text")
	})

	t.Run("non numeric annotation file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "final.text", "textbox<1>")

		_, err := NewExtractor(zaptest.NewLogger(t)).ExtractDir(dir)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrCorruptFixture)
	})

	t.Run("duplicate step", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "3.text", "textbox<1>")
		writeFile(t, dir, "3_drawed.png.text", "textbox<2>")

		_, err := NewExtractor(zaptest.NewLogger(t)).ExtractDir(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "annotated twice")
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := NewExtractor(zaptest.NewLogger(t)).ExtractDir(filepath.Join(t.TempDir(), "absent"))
		require.Error(t, err)
	})
}

func TestExtractDir_EmptyAnnotationSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0.text", " | ")
	writeFile(t, dir, "4.text", "type<hello>")

	anns, err := NewExtractor(zaptest.NewLogger(t)).ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, 4, anns[0].StateIndex)
}
