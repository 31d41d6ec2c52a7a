// Package backup exports users and activity records as JSON Lines into
// object storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/storage"
	"github.com/otpgate/apiserver/types"
)

const contentType = "application/x-ndjson"

type UserLister interface {
	List(ctx context.Context) ([]types.User, error)
}

type ActivityLister interface {
	List(ctx context.Context) ([]types.ActivityRecord, error)
}

// Line is one row of the export. Exactly one of User or Activity is set.
type Line struct {
	Kind     string                `json:"kind"`
	User     *types.User           `json:"user,omitempty"`
	Activity *types.ActivityRecord `json:"activity,omitempty"`
}

// Result describes a finished export.
type Result struct {
	Bucket   string
	Key      string
	Users    int
	Activity int
	Bytes    int
}

type Exporter struct {
	users    UserLister
	activity ActivityLister
	bucket   storage.ObjectStorage
	prefix   string
	log      logging.Logger
	clock    func() time.Time
}

func NewExporter(users UserLister, activity ActivityLister, bucket storage.ObjectStorage, prefix string, log logging.Logger) *Exporter {
	return &Exporter{
		users:    users,
		activity: activity,
		bucket:   bucket,
		prefix:   prefix,
		log:      log,
		clock:    time.Now,
	}
}

// Run writes a snapshot to <prefix>/<timestamp>-<uuid>.jsonl. Password
// hashes never leave the store because types.User does not serialize them.
func (e *Exporter) Run(ctx context.Context) (Result, error) {
	users, err := e.users.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list users: %w", err)
	}
	records, err := e.activity.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list activity: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range users {
		if err := enc.Encode(Line{Kind: "user", User: &users[i]}); err != nil {
			return Result{}, fmt.Errorf("encode user %s: %w", users[i].ID, err)
		}
	}
	for i := range records {
		if err := enc.Encode(Line{Kind: "activity", Activity: &records[i]}); err != nil {
			return Result{}, fmt.Errorf("encode activity %s: %w", records[i].DocumentID, err)
		}
	}

	if err := e.bucket.EnsureBucket(ctx); err != nil {
		return Result{}, fmt.Errorf("ensure bucket %s: %w", e.bucket.Bucket(), err)
	}

	key := path.Join(e.prefix, fmt.Sprintf("%s-%s.jsonl", e.clock().UTC().Format("20060102T150405Z"), uuid.NewString()))
	size := buf.Len()
	if err := e.bucket.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(size), contentType); err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", key, err)
	}
	if err := e.verify(ctx, key, buf.Bytes()); err != nil {
		if delErr := e.bucket.Delete(ctx, key); delErr != nil {
			e.log.Error(ctx, "backup cleanup failed", "key", key, "error", delErr)
		}
		return Result{}, err
	}

	res := Result{Bucket: e.bucket.Bucket(), Key: key, Users: len(users), Activity: len(records), Bytes: size}
	e.log.Info(ctx, "backup uploaded",
		"bucket", res.Bucket,
		"key", res.Key,
		"users", res.Users,
		"activity", res.Activity,
	)
	return res, nil
}

var errCorrupt = errors.New("uploaded object does not match export")

// verify reads key back and compares it with want.
func (e *Exporter) verify(ctx context.Context, key string, want []byte) error {
	rc, err := e.bucket.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read back %s: %w", key, err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read back %s: %w", key, err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("verify %s: got %d bytes, want %d: %w", key, len(got), len(want), errCorrupt)
	}
	return nil
}
