package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetviewai/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "images.db")
	s, err := NewGormStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedImage(t *testing.T, s *GormStore, filename string, createdAt time.Time) domain.Image {
	t.Helper()
	img, err := s.CreateImage(context.Background(), domain.Image{
		Filename:      filename,
		Filepath:      "/input/" + filename,
		FileSizeBytes: 42,
		CreatedAt:     createdAt,
	})
	require.NoError(t, err)
	return img
}

func TestCreateImageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	captured := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	width, height := 1920, 1080

	created, err := s.CreateImage(ctx, domain.Image{
		Filename:      "street.png",
		Filepath:      "/input/street.png",
		Address:       "1 Main St",
		Coordinates:   &domain.Coordinates{Lat: 48.85, Lng: 2.35},
		GoogleMapsURL: "https://maps.example/1",
		CapturedAt:    &captured,
		Width:         &width,
		Height:        &height,
		FileSizeBytes: 1234,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, ok, err := s.GetImageByFilename(ctx, "street.png")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "1 Main St", got.Address)
	require.NotNil(t, got.Coordinates)
	assert.InDelta(t, 48.85, got.Coordinates.Lat, 1e-9)
	assert.InDelta(t, 2.35, got.Coordinates.Lng, 1e-9)
	require.NotNil(t, got.CapturedAt)
	assert.True(t, captured.Equal(*got.CapturedAt))
	require.NotNil(t, got.Width)
	assert.Equal(t, 1920, *got.Width)
	assert.Equal(t, int64(1234), got.FileSizeBytes)

	_, ok, err = s.GetImageByFilename(ctx, "missing.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateImageWithoutMetadata(t *testing.T) {
	s := newTestStore(t)
	img := seedImage(t, s, "bare.png", time.Time{})

	got, ok, err := s.GetImageByFilename(context.Background(), "bare.png")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, img.ID, got.ID)
	assert.Nil(t, got.Coordinates)
	assert.Nil(t, got.CapturedAt)
	assert.Empty(t, got.Address)
}

func TestCreateImageConflictReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	first := seedImage(t, s, "dup.png", time.Time{})

	second, err := s.CreateImage(context.Background(), domain.Image{
		Filename: "dup.png",
		Filepath: "/elsewhere/dup.png",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "/input/dup.png", second.Filepath)
}

func TestCreateImageConcurrentSingleRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, err := s.CreateImage(ctx, domain.Image{Filename: "race.png", Filepath: "/input/race.png"})
			assert.NoError(t, err)
			ids[i] = img.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	total, _, err := s.ListImages(ctx, ImageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestAppendAnalysesIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, s, "a.png", time.Time{})

	for i := 0; i < 2; i++ {
		saved, err := s.AppendAnalyses(ctx, []domain.AnalysisResult{
			{ImageID: img.ID, ModelName: "llava:13b", Kind: domain.KindDescription, Result: domain.Payload{"response": fmt.Sprintf("run %d", i)}, ProcessingTimeMS: 10},
			{ImageID: img.ID, ModelName: "llava:13b", Kind: domain.KindOCR, Result: domain.Payload{"response": "SHOP"}, ProcessingTimeMS: 5},
		})
		require.NoError(t, err)
		require.Len(t, saved, 2)
		assert.NotZero(t, saved[0].ID)
		assert.Less(t, saved[0].ID, saved[1].ID)
	}

	got, analyses, ok, err := s.GetImageWithAnalyses(ctx, img.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), got.AnalysisCount)
	require.Len(t, analyses, 4)
	assert.Equal(t, "run 0", analyses[0].Result["response"])
	assert.Equal(t, "run 1", analyses[2].Result["response"])
	for i := 1; i < len(analyses); i++ {
		assert.Less(t, analyses[i-1].ID, analyses[i].ID)
	}
	assert.Nil(t, analyses[0].ConfidenceScore)
	assert.False(t, analyses[0].AnalyzedAt.IsZero())
}

func TestAppendAnalysesRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, s, "a.png", time.Time{})

	_, err := s.AppendAnalyses(ctx, []domain.AnalysisResult{
		{ImageID: img.ID, ModelName: "m", Kind: domain.KindDescription, Result: domain.Payload{"response": "ok"}},
		{ImageID: img.ID + 999, ModelName: "m", Kind: domain.KindOCR, Result: domain.Payload{"response": "orphan"}},
	})
	require.Error(t, err)

	_, analyses, ok, err := s.GetImageWithAnalyses(ctx, img.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, analyses)
}

func TestAppendAnalysisSingle(t *testing.T) {
	s := newTestStore(t)
	img := seedImage(t, s, "one.png", time.Time{})

	saved, err := s.AppendAnalysis(context.Background(), domain.AnalysisResult{
		ImageID: img.ID, ModelName: "m", Kind: domain.KindCustom, Result: domain.Payload{"response": "x"},
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, domain.KindCustom, saved.Kind)
}

func TestListImagesOrderingAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	old := seedImage(t, s, "old.png", base)
	mid := seedImage(t, s, "mid.png", base.Add(time.Hour))
	newest := seedImage(t, s, "new.png", base.Add(2*time.Hour))

	_, err := s.AppendAnalyses(ctx, []domain.AnalysisResult{
		{ImageID: old.ID, ModelName: "m", Kind: domain.KindDescription, Result: domain.Payload{"response": "1"}},
		{ImageID: old.ID, ModelName: "m", Kind: domain.KindOCR, Result: domain.Payload{"response": "2"}},
		{ImageID: old.ID, ModelName: "m", Kind: domain.KindOCR, Result: domain.Payload{"response": "3"}},
		{ImageID: newest.ID, ModelName: "m", Kind: domain.KindDescription, Result: domain.Payload{"response": "4"}},
	})
	require.NoError(t, err)

	total, page, err := s.ListImages(ctx, ImageFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 3)
	assert.Equal(t, []int64{newest.ID, mid.ID, old.ID}, []int64{page[0].ID, page[1].ID, page[2].ID})
	assert.Equal(t, []int64{1, 0, 3}, []int64{page[0].AnalysisCount, page[1].AnalysisCount, page[2].AnalysisCount})

	total, page, err = s.ListImages(ctx, ImageFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, mid.ID, page[0].ID)
}

func TestListImagesAnalyzedOnlyHasNoDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedImage(t, s, "a.png", time.Time{})
	seedImage(t, s, "b.png", time.Time{})

	for i := 0; i < 3; i++ {
		_, err := s.AppendAnalysis(ctx, domain.AnalysisResult{ImageID: a.ID, ModelName: "m", Kind: domain.KindDescription, Result: domain.Payload{"response": "x"}})
		require.NoError(t, err)
	}

	total, page, err := s.ListImages(ctx, ImageFilter{AnalyzedOnly: true, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, page, 1)
	assert.Equal(t, a.ID, page[0].ID)
	assert.Equal(t, int64(3), page[0].AnalysisCount)
}

func TestListImagesEmpty(t *testing.T) {
	s := newTestStore(t)
	total, page, err := s.ListImages(context.Background(), ImageFilter{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestGetImageWithAnalysesMissing(t *testing.T) {
	s := newTestStore(t)
	_, _, ok, err := s.GetImageWithAnalyses(context.Background(), 12345)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLitePath(t *testing.T) {
	path, ok := sqlitePath("sqlite:///tmp/x.db")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/x.db?_foreign_keys=1&_busy_timeout=5000", path)

	path, ok = sqlitePath("file:x.db?cache=shared")
	assert.True(t, ok)
	assert.Equal(t, "file:x.db?cache=shared&_foreign_keys=1&_busy_timeout=5000", path)

	_, ok = sqlitePath("postgres://user@localhost/db")
	assert.False(t, ok)
}

var _ Store = (*GormStore)(nil)
