package progress

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReader_ReportsQuartersAndInterval(t *testing.T) {
	data := strings.Repeat("x", 100)

	var reports []int64
	pr := NewReader(strings.NewReader(data), 0, 100, 1000, func(written, total int64) {
		assert.Equal(t, int64(100), total)
		reports = append(reports, written)
	})

	buf := make([]byte, 10)
	var out bytes.Buffer

	_, err := io.CopyBuffer(struct{ io.Writer }{&out}, struct{ io.Reader }{pr}, buf)
	require.NoError(t, err)

	assert.Equal(t, data, out.String())
	assert.Equal(t, []int64{30, 50, 80, 100}, reports)
}

func TestProgressReader_CountsFromOffset(t *testing.T) {
	var last int64
	pr := NewReader(strings.NewReader("abcdef"), 94, 100, 2, func(written, _ int64) {
		last = written
	})

	_, err := io.ReadAll(pr)
	require.NoError(t, err)

	assert.Equal(t, int64(100), last)
}

func TestProgressReader_UnknownTotal(t *testing.T) {
	calls := 0
	pr := NewReader(strings.NewReader("abcdef"), 0, 0, 4, func(int64, int64) { calls++ })

	buf := make([]byte, 2)
	_, err := io.CopyBuffer(struct{ io.Writer }{io.Discard}, struct{ io.Reader }{pr}, buf)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}
