// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package imagepipe

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cercinaai/Xtracto-io/internal/testcontext"
	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
	"github.com/cercinaai/Xtracto-io/pipeline/teststore"
)

const urlPrefix = "https://store.example/file/photos/"

// fakeUploader records uploads and answers with predictable URLs.
type fakeUploader struct {
	uploads int
	errs    map[string]error
}

func (u *fakeUploader) Upload(ctx context.Context, data []byte, objectName, contentType string) (string, error) {
	if err, ok := u.errs[objectName]; ok {
		return "", err
	}
	u.uploads++
	return urlPrefix + objectName, nil
}

func (u *fakeUploader) URLPrefix() string { return urlPrefix }

// fakeSource serves image bytes from a map.
type fakeSource struct {
	gets int
	data map[string][]byte
	errs map[string]error
}

func (s *fakeSource) Get(ctx context.Context, url string) ([]byte, error) {
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	if data, ok := s.data[url]; ok {
		s.gets++
		return data, nil
	}
	return nil, fetcher.ErrPageGone.New("not scripted: %s", url)
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func newService(t *testing.T, db DB, uploader Uploader, source ImageSource) *Service {
	return NewService(zaptest.NewLogger(t), db, uploader, source, listing.DefaultBlacklist(), Config{})
}

func seedWithAgency(ctx context.Context, t *testing.T, db *teststore.DB, idSec string, images []string, storeID, agencyName string) {
	l := listing.Listing{
		IDSec:  idSec,
		Title:  "T2 " + idSec,
		Images: images,
	}
	if storeID != "" {
		l.StoreID = &storeID
	}
	if agencyName != "" {
		l.AgencyName = &agencyName
	}
	created, err := db.CreateWithAgency(ctx, &l)
	require.NoError(t, err)
	require.True(t, created)
}

func TestProcess_FullPass(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	jpeg := testJPEG(t)
	source := &fakeSource{data: map[string][]byte{
		"https://img/a1/0.jpg": jpeg,
		"https://img/a1/1.jpg": jpeg,
	}}
	uploader := &fakeUploader{}

	_, err := db.EnsureAgencyBrute(ctx, &listing.Agency{StoreID: "100", Name: "Agence Azur"})
	require.NoError(t, err)
	seedWithAgency(ctx, t, db, "a1",
		[]string{"https://img/a1/0.jpg", "https://img/a1/1.jpg"}, "100", "Agence Azur")

	service := newService(t, db, uploader, source)
	n, err := service.runBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	finals := db.Final()
	require.Len(t, finals, 1)
	require.Equal(t, "a1", finals[0].IDSec)
	require.Equal(t, 2, finals[0].NbrImages)
	require.Equal(t, urlPrefix+"real_estate/a1_0.jpg", finals[0].Images[0])
	require.Equal(t, urlPrefix+"real_estate/a1_1.jpg", finals[0].Images[1])
	require.True(t, finals[0].Processed)
	require.NotNil(t, finals[0].ProcessedAt)
	require.NotNil(t, finals[0].IDAgence)

	// the brute agency was promoted along the way
	require.Len(t, db.FinalAgencies(), 1)
	require.Equal(t, db.FinalAgencies()[0].ID.Hex(), *finals[0].IDAgence)

	withAgency := db.WithAgency()
	require.True(t, withAgency[0].Processed)
	require.Equal(t, 2, uploader.uploads)
}

func TestProcess_Blacklisted(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	seedWithAgency(ctx, t, db, "b1", []string{"https://img/b1/0.jpg"}, "5608823", "Blocked")

	uploader := &fakeUploader{}
	service := newService(t, db, uploader, &fakeSource{})
	_, err := service.runBatch(ctx)
	require.NoError(t, err)

	require.Empty(t, db.Final())
	require.True(t, db.WithAgency()[0].Processed, "blacklisted records are retired, not retried")
	require.Zero(t, uploader.uploads)
}

func TestProcess_AllImagesGone(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	seedWithAgency(ctx, t, db, "c1",
		[]string{"https://img/c1/0.jpg", "https://img/c1/1.jpg"}, "100", "Agence Azur")

	source := &fakeSource{errs: map[string]error{
		"https://img/c1/0.jpg": fetcher.ErrPageGone.New("404"),
		"https://img/c1/1.jpg": fetcher.ErrPageGone.New("404"),
	}}
	uploader := &fakeUploader{}
	service := newService(t, db, uploader, source)
	_, err := service.runBatch(ctx)
	require.NoError(t, err)

	// images that die during the pass do not hold the record back
	finals := db.Final()
	require.Len(t, finals, 1)
	require.Equal(t, []string{listing.NoImage, listing.NoImage}, finals[0].Images)
	require.Zero(t, finals[0].NbrImages)
	require.True(t, finals[0].Processed)
	require.True(t, db.WithAgency()[0].Processed)
	require.Zero(t, uploader.uploads)
}

func TestProcess_AllSlotsDeadOnEntry(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	seedWithAgency(ctx, t, db, "c2",
		[]string{listing.NoImage, listing.NoImage}, "100", "Agence Azur")

	source := &fakeSource{}
	service := newService(t, db, &fakeUploader{}, source)
	_, err := service.runBatch(ctx)
	require.NoError(t, err)

	// nothing fetchable to begin with: retired without a final row
	require.Empty(t, db.Final())
	require.True(t, db.WithAgency()[0].Processed)
	require.Zero(t, source.gets)
}

func TestProcess_TransientDefers(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	jpeg := testJPEG(t)
	source := &fakeSource{
		data: map[string][]byte{"https://img/d1/0.jpg": jpeg},
		errs: map[string]error{"https://img/d1/1.jpg": fetcher.ErrTransient.New("503")},
	}
	seedWithAgency(ctx, t, db, "d1",
		[]string{"https://img/d1/0.jpg", "https://img/d1/1.jpg"}, "100", "Agence Azur")

	service := newService(t, db, &fakeUploader{}, source)
	_, err := service.runBatch(ctx)
	require.NoError(t, err)

	require.Empty(t, db.Final())

	record := db.WithAgency()[0]
	require.False(t, record.Processed, "a deferred record stays in the queue")
	// the successful upload is kept, the failed slot keeps its origin
	require.Equal(t, urlPrefix+"real_estate/d1_0.jpg", record.Images[0])
	require.Equal(t, "https://img/d1/1.jpg", record.Images[1])
}

func TestProcess_ObjstoreSlotsCarried(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	_, err := db.EnsureAgencyBrute(ctx, &listing.Agency{StoreID: "100", Name: "Agence Azur"})
	require.NoError(t, err)
	seedWithAgency(ctx, t, db, "e1",
		[]string{urlPrefix + "real_estate/e1_0.jpg", listing.NoImage}, "100", "Agence Azur")

	uploader := &fakeUploader{}
	source := &fakeSource{}
	service := newService(t, db, uploader, source)
	_, err = service.runBatch(ctx)
	require.NoError(t, err)

	finals := db.Final()
	require.Len(t, finals, 1)
	require.Equal(t, urlPrefix+"real_estate/e1_0.jpg", finals[0].Images[0])
	require.Equal(t, listing.NoImage, finals[0].Images[1])
	require.Equal(t, 1, finals[0].NbrImages, "dead slots do not count")
	require.Zero(t, uploader.uploads)
	require.Zero(t, source.gets)
}

func TestProcess_AlreadyInFinal(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	seedWithAgency(ctx, t, db, "f1", []string{"https://img/f1/0.jpg"}, "100", "Agence Azur")

	record := db.WithAgency()[0]
	require.NoError(t, db.UpsertFinal(ctx, &listing.Listing{
		IDSec: record.IDSec, Title: record.Title, Price: record.Price,
	}))

	uploader := &fakeUploader{}
	service := newService(t, db, uploader, &fakeSource{})
	_, err := service.runBatch(ctx)
	require.NoError(t, err)

	require.Len(t, db.Final(), 1)
	require.True(t, db.WithAgency()[0].Processed)
	require.Zero(t, uploader.uploads, "an already promoted listing is only marked")
}

func TestProcess_UnresolvableAgencyDefers(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	jpeg := testJPEG(t)
	source := &fakeSource{data: map[string][]byte{"https://img/g1/0.jpg": jpeg}}
	// no storeId, no agencyName: the chain has nothing to work with
	seedWithAgency(ctx, t, db, "g1", []string{"https://img/g1/0.jpg"}, "", "")

	service := newService(t, db, &fakeUploader{}, source)
	_, err := service.runBatch(ctx)
	require.NoError(t, err)

	require.Empty(t, db.Final())
	require.False(t, db.WithAgency()[0].Processed)
}

func TestSetInstances(t *testing.T) {
	t.Parallel()

	service := newService(t, teststore.New(), &fakeUploader{}, &fakeSource{})
	require.Equal(t, 5, service.Instances())

	require.NoError(t, service.SetInstances(1))
	require.NoError(t, service.SetInstances(10))
	require.Error(t, service.SetInstances(0))
	require.Error(t, service.SetInstances(11))
	require.Equal(t, 10, service.Instances())
}
