package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

func sourceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestArchiveMovesFiles(t *testing.T) {
	dataDir := t.TempDir()
	archiveDir := filepath.Join(t.TempDir(), "archive")

	a, err := New(context.Background(), Config{Dir: archiveDir}, utils.NewNopLogger())
	require.NoError(t, err)

	path := sourceFile(t, dataDir, "transactions_01032021.txt", "a;b\n1;2\n")
	moved, err := a.Archive(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "оригинал удалён")

	data, err := os.ReadFile(filepath.Join(archiveDir, "transactions_01032021.txt.backup"))
	require.NoError(t, err)
	assert.Equal(t, "a;b\n1;2\n", string(data))
}

func TestArchiveCompressed(t *testing.T) {
	dataDir := t.TempDir()
	archiveDir := t.TempDir()

	a, err := New(context.Background(), Config{Driver: DriverFilesystem, Dir: archiveDir, Compress: true}, utils.NewNopLogger())
	require.NoError(t, err)

	content := bytes.Repeat([]byte("T1;2021-03-01;100;1111\n"), 50)
	path := sourceFile(t, dataDir, "transactions_01032021.txt", string(content))

	_, err = a.Archive(context.Background(), []string{path})
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(archiveDir, "transactions_01032021.txt.backup.sz"))
	require.NoError(t, err)
	defer f.Close()

	restored, err := io.ReadAll(snappy.NewReader(f))
	require.NoError(t, err)
	assert.Equal(t, content, restored)
}

func TestArchiveMissingFile(t *testing.T) {
	a, err := New(context.Background(), Config{Dir: t.TempDir()}, utils.NewNopLogger())
	require.NoError(t, err)

	moved, err := a.Archive(context.Background(), []string{filepath.Join(t.TempDir(), "missing.txt")})
	assert.Error(t, err)
	assert.Equal(t, 0, moved)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), Config{}, utils.NewNopLogger())
	assert.Error(t, err, "каталог обязателен")

	_, err = New(context.Background(), Config{Driver: "ftp", Dir: t.TempDir()}, utils.NewNopLogger())
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Driver: DriverS3}, utils.NewNopLogger())
	assert.Error(t, err, "бакет обязателен")
}

type fakePutter struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, *in.Key)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	putter := &fakePutter{}
	a := NewArchiver(newS3Store(putter, "dwh-archive", "incoming"), false, utils.NewNopLogger())

	path := sourceFile(t, t.TempDir(), "terminals_01032021.xlsx", "xlsx")
	_, err := a.Archive(context.Background(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, []string{"incoming/terminals_01032021.xlsx.backup"}, putter.keys)
	assert.Equal(t, "xlsx", string(putter.bodies[0]))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestS3StoreFailureKeepsOriginal(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	a := NewArchiver(newS3Store(putter, "dwh-archive", ""), true, utils.NewNopLogger())

	path := sourceFile(t, t.TempDir(), "terminals_01032021.xlsx", "xlsx")
	_, err := a.Archive(context.Background(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	_, err = os.Stat(path)
	assert.NoError(t, err, "при ошибке загрузки файл остаётся на месте")
}
