package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/store"
	"github.com/otpgate/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(repo Repository) *Logger {
	return NewLogger(repo, logging.Discard())
}

func TestUsername(t *testing.T) {
	assert.Equal(t, "alice", Username("alice@example.com"))
	assert.Equal(t, "a.b", Username("a.b@x@y.com"))
	assert.Equal(t, "noat", Username("noat"))
	assert.Equal(t, "", Username("@x.com"))
}

func TestRecord_SignUpUsesFixedID(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	l := newTestLogger(mem.Activity())

	rec, err := l.Record(ctx, "u1", "alice@x.com", types.ActivitySignUp)
	require.NoError(t, err)
	assert.Equal(t, "sign-up-alice", rec.DocumentID)
	assert.Nil(t, rec.SequenceNumber)
	assert.Equal(t, "alice", rec.Username)

	_, err = l.Record(ctx, "u2", "alice@y.com", types.ActivitySignUp)
	require.NoError(t, err)

	records, err := mem.Activity().List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1, "sign-up records for one username overwrite each other")
	assert.Equal(t, "u2", records[0].UserID)
}

func TestRecord_SequencesAreDensePerTypeAndUsername(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	l := newTestLogger(mem.Activity())

	for i := int64(1); i <= 5; i++ {
		rec, err := l.Record(ctx, "u1", "alice@x.com", types.ActivitySignIn)
		require.NoError(t, err)
		require.NotNil(t, rec.SequenceNumber)
		assert.Equal(t, i, *rec.SequenceNumber)
		assert.Equal(t, DocumentID(types.ActivitySignIn, "alice", i), rec.DocumentID)
	}

	out, err := l.Record(ctx, "u1", "alice@x.com", types.ActivitySignOut)
	require.NoError(t, err)
	assert.Equal(t, "sign-out-alice-1", out.DocumentID)

	bob, err := l.Record(ctx, "u2", "bob@x.com", types.ActivitySignIn)
	require.NoError(t, err)
	assert.Equal(t, "sign-in-bob-1", bob.DocumentID)
}

func TestRecord_ConcurrentSignInsDoNotOverwrite(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	l := newTestLogger(mem.Activity())

	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Record(ctx, "u1", "alice@x.com", types.ActivitySignIn)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	max, err := mem.Activity().MaxSequence(ctx, types.ActivitySignIn, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(n), max)

	records, err := mem.Activity().List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, n)
}

type scanFailingRepo struct {
	Repository
}

func (scanFailingRepo) MaxSequence(context.Context, types.ActivityType, string) (int64, error) {
	return 0, errors.New("index unavailable")
}

func TestRecord_ScanFailureFallsBackToTimestamp(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	l := newTestLogger(scanFailingRepo{Repository: mem.Activity()})
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return fixed }

	rec, err := l.Record(ctx, "u1", "alice@x.com", types.ActivitySignIn)
	require.NoError(t, err)
	require.NotNil(t, rec.SequenceNumber)
	assert.Equal(t, fixed.UnixMilli(), *rec.SequenceNumber)
}

type alwaysConflictRepo struct {
	Repository
}

func (alwaysConflictRepo) Insert(context.Context, types.ActivityRecord) error {
	return store.ErrConflict
}

func TestRecord_GivesUpAfterRepeatedConflicts(t *testing.T) {
	l := newTestLogger(alwaysConflictRepo{Repository: store.NewMemoryStore().Activity()})

	_, err := l.Record(context.Background(), "u1", "alice@x.com", types.ActivitySignOut)
	assert.Error(t, err)
}

type brokenRepo struct {
	Repository
}

func (brokenRepo) Insert(context.Context, types.ActivityRecord) error {
	return errors.New("write failed")
}

func TestRecord_PropagatesWriteErrors(t *testing.T) {
	l := newTestLogger(brokenRepo{Repository: store.NewMemoryStore().Activity()})

	_, err := l.Record(context.Background(), "u1", "alice@x.com", types.ActivitySignIn)
	assert.ErrorContains(t, err, "write failed")
}

func TestRecord_RejectsUnknownType(t *testing.T) {
	l := newTestLogger(store.NewMemoryStore().Activity())

	_, err := l.Record(context.Background(), "u1", "alice@x.com", types.ActivityType("password-reset"))
	assert.Error(t, err)
}
