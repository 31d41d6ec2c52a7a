package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/otpgate/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{Backup: config.BackupConfig{Backend: "ftp"}})
	assert.Error(t, err)
}

func TestNewMinioClient_RequiresSettings(t *testing.T) {
	_, err := NewMinioClient(config.MinioConfig{Endpoint: "localhost:9000", Bucket: "b"})
	assert.Error(t, err)

	c, err := NewMinioClient(config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", c.Bucket())
}

func TestNewS3Client(t *testing.T) {
	_, err := NewS3Client(context.Background(), config.S3Config{Region: "us-east-1"})
	assert.Error(t, err)

	c, err := NewS3Client(context.Background(), config.S3Config{
		Bucket:       "backups",
		Region:       "us-east-1",
		AccessKey:    "a",
		SecretKey:    "s",
		BaseEndpoint: "http://localhost:9000",
	})
	require.NoError(t, err)
	assert.Equal(t, "backups", c.Bucket())
}

func TestMemoryBucket(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket("test")

	require.NoError(t, b.Put(ctx, "a/1.jsonl", strings.NewReader("line\n"), 5, "application/x-ndjson"))
	assert.Equal(t, []string{"a/1.jsonl"}, b.Keys())
	assert.Equal(t, "application/x-ndjson", b.ContentType("a/1.jsonl"))

	rc, err := b.Get(ctx, "a/1.jsonl")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	require.NoError(t, b.Delete(ctx, "a/1.jsonl"))
	_, err = b.Get(ctx, "a/1.jsonl")
	assert.Error(t, err)
}
