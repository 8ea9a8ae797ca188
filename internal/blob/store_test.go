package blob

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

type fakeThumbnailer struct {
	calls int
	err   error
}

func (f *fakeThumbnailer) Thumbnail(_ context.Context, data []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("thumb:" + string(data[:4])), nil
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *db.DB) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(context.Background(), database))
	return New(database.DB, opts...), database
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestPutGet_photo(t *testing.T) {
	thumbs := &fakeThumbnailer{}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t, WithThumbnailer(thumbs), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	data := pngBytes(t)

	thumbnail := store.RenderThumbnail(ctx, "f1", data)
	assert.Equal(t, 1, thumbs.calls)

	put, err := store.Put(ctx, models.KindFoto, "f1", data, thumbnail)
	require.NoError(t, err)
	assert.Equal(t, "image/png", put.MimeType)
	assert.Equal(t, int64(len(data)), put.Size)
	assert.Equal(t, CalculateHash(data), put.Hash)
	assert.Equal(t, 1, thumbs.calls)

	got, err := store.Get(ctx, models.KindFoto, "f1")
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
	assert.True(t, strings.HasPrefix(string(got.Thumbnail), "thumb:"))
	assert.Equal(t, now.UnixMilli(), got.CreatedAt)

	thumb, err := store.Thumbnail(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, got.Thumbnail, thumb)
}

func TestPut_neverGeneratesThumbnail(t *testing.T) {
	thumbs := &fakeThumbnailer{}
	store, _ := newTestStore(t, WithThumbnailer(thumbs))
	ctx := context.Background()

	_, err := store.Put(ctx, models.KindFoto, "f1", pngBytes(t), []byte("mine"))
	require.NoError(t, err)
	_, err = store.Put(ctx, models.KindFoto, "f2", pngBytes(t), nil)
	require.NoError(t, err)
	assert.Zero(t, thumbs.calls)

	got, err := store.Get(ctx, models.KindFoto, "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("mine"), got.Thumbnail)

	got, err = store.Get(ctx, models.KindFoto, "f2")
	require.NoError(t, err)
	assert.Nil(t, got.Thumbnail)
}

func TestRenderThumbnail_failureIsNotFatal(t *testing.T) {
	store, _ := newTestStore(t, WithThumbnailer(&fakeThumbnailer{err: errors.New("decode")}))

	assert.Nil(t, store.RenderThumbnail(context.Background(), "f1", []byte("not really a jpeg")))
}

func TestRenderThumbnail_withoutThumbnailer(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Nil(t, store.RenderThumbnail(context.Background(), "f1", pngBytes(t)))
}

func TestPut_lastWriteWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, models.KindAudio, "a1", []byte("first"), nil)
	require.NoError(t, err)
	_, err = store.Put(ctx, models.KindAudio, "a1", []byte("second version"), nil)
	require.NoError(t, err)

	got, err := store.Get(ctx, models.KindAudio, "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second version"), got.Data)
	assert.Equal(t, int64(len("second version")), got.Size)
	assert.Nil(t, got.Thumbnail)
}

func TestPut_invalidInput(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, models.KindVisita, "v1", []byte("x"), nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = store.Put(ctx, models.KindFoto, "", []byte("x"), nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = store.Put(ctx, models.KindFoto, "f1", nil, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestGet_missing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), models.KindAudio, "nope")
	assert.True(t, apperrors.Is(err, apperrors.ErrBlobAbsent))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestGet_corrupted(t *testing.T) {
	store, database := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, models.KindAudio, "a1", []byte("voice note"), nil)
	require.NoError(t, err)
	_, err = database.Exec("UPDATE audio_blobs SET data = ? WHERE id = ?", []byte("tampered"), "a1")
	require.NoError(t, err)

	_, err = store.Get(ctx, models.KindAudio, "a1")
	assert.True(t, apperrors.Is(err, apperrors.ErrBlobCorrupt))
}

func TestDelete_idempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, models.KindFoto, "f1", []byte("jpeg"), []byte("t"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, models.KindFoto, "f1"))
	require.NoError(t, store.Delete(ctx, models.KindFoto, "f1"))

	ok, err := store.Exists(ctx, models.KindFoto, "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithTx_rollbackDiscardsBlob(t *testing.T) {
	store, database := newTestStore(t)
	ctx := context.Background()

	tx, err := database.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = store.WithTx(tx).Put(ctx, models.KindAudio, "a1", []byte("voice"), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	ok, err := store.Exists(ctx, models.KindAudio, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCalculateHashFromReader(t *testing.T) {
	data := []byte("hello blob")
	got, err := CalculateHashFromReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, CalculateHash(data), got)
	assert.Len(t, got, 64)
}
