package output

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

func sampleRows() []domain.ResultRow {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	sig := &domain.LogRecord{FlowID: "1", TxID: 0, URL: "/admin.php?cmd=cat /etc/passwd"}
	cls := &domain.LogRecord{FlowID: "2", TxID: 3, URL: `/search?q="a,b"`}
	return []domain.ResultRow{
		domain.NewSignatureRow(sig, now),
		domain.NewClassifierRow(cls, domain.LabelBenign, 0.123, now),
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVSinkAppendsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "results.csv")

	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	for _, row := range sampleRows() {
		require.NoError(t, sink.Emit(row))
	}
	require.NoError(t, sink.Close())

	assert.Equal(t, [][]string{
		{"/admin.php?cmd=cat /etc/passwd", "ATTACK", "1.00"},
		{`/search?q="a,b"`, "BENIGN", "0.12"},
	}, readCSV(t, path))
}

func TestCSVSinkRowBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	for _, row := range sampleRows() {
		require.NoError(t, sink.Emit(row))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"/admin.php?cmd=cat /etc/passwd,ATTACK,1.00\r\n"+
			"\"/search?q=\"\"a,b\"\"\",BENIGN,0.12\r\n",
		string(data))
}

func TestCSVSinkKeepsExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	require.NoError(t, os.WriteFile(path, []byte("/old,BENIGN,0.01\n"), 0o644))

	sink, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Emit(sampleRows()[0]))

	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"/old", "BENIGN", "0.01"}, records[0])
}

func TestCSVSinkRecreatesRemovedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Emit(sampleRows()[0]))
	require.NoError(t, os.Remove(path))
	require.NoError(t, sink.Emit(sampleRows()[1]))

	assert.Len(t, readCSV(t, path), 1)
}

func TestCSVSinkWriteFailure(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewCSVSink(filepath.Join(dir, "results.csv"))
	require.NoError(t, err)

	// A directory in place of the file makes every open fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "results.csv"), 0o755))
	assert.Error(t, sink.Emit(sampleRows()[0]))
}

func TestNewCSVSinkErrors(t *testing.T) {
	_, err := NewCSVSink("")
	assert.Error(t, err)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	_, err = NewCSVSink(filepath.Join(blocker, "sub", "results.csv"))
	assert.Error(t, err)
}

type failingSink struct {
	closed bool
	emits  int
}

func (f *failingSink) Emit(domain.ResultRow) error {
	f.emits++
	return errors.New("emit failed")
}

func (f *failingSink) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func TestMirroredSinkMirrorFailureKeepsRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	csvSink, err := NewCSVSink(path)
	require.NoError(t, err)
	bad := &failingSink{}
	var buf bytes.Buffer
	jsonl, err := NewJSONLSink(JSONLSinkConfig{Writer: &buf})
	require.NoError(t, err)

	var mirrorErrs []error
	m := NewMirroredSink(csvSink, bad, jsonl)
	m.OnMirrorError = func(err error) { mirrorErrs = append(mirrorErrs, err) }

	assert.NoError(t, m.Emit(sampleRows()[0]))
	assert.Len(t, readCSV(t, path), 1)
	require.Len(t, mirrorErrs, 1)
	assert.EqualError(t, mirrorErrs[0], "emit failed")

	require.NoError(t, jsonl.Flush())
	assert.Contains(t, buf.String(), `"label":"ATTACK"`, "later mirrors still receive the row")

	assert.ErrorContains(t, m.Close(), "close failed")
	assert.True(t, bad.closed)
}

func TestMirroredSinkPrimaryFailure(t *testing.T) {
	primary := &failingSink{}
	mirror := &failingSink{}
	m := NewMirroredSink(primary, mirror)

	assert.ErrorContains(t, m.Emit(sampleRows()[0]), "emit failed")
	assert.Zero(t, mirror.emits, "mirrors are skipped when the primary fails")
}

func TestMirroredSinkWithoutHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	csvSink, err := NewCSVSink(path)
	require.NoError(t, err)

	m := NewMirroredSink(csvSink, &failingSink{})
	assert.NoError(t, m.Emit(sampleRows()[1]))
	assert.Len(t, readCSV(t, path), 1)
}
