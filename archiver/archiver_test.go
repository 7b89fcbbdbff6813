package archiver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/visionstream/errors"
	"github.com/c360/visionstream/frame"
	"github.com/c360/visionstream/keypoint"
	"github.com/c360/visionstream/testutil"
)

type fakeStore struct {
	mu       sync.Mutex
	records  []Record
	failNext int
	saveErr  error
	closed   bool
}

func (s *fakeStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.WrapTransient(
			fmt.Errorf("store hiccup"), "fakeStore", "Save", "save record")
	}
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) saved() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func featureMessage(filename string, kps []keypoint.Keypoint) []byte {
	image := []byte("image-bytes-" + filename)
	return frame.Marshal([]byte(filename), image, keypoint.Encode(kps))
}

func newRunning(t *testing.T, store Store) (*Archiver, *testutil.FakeConn) {
	t.Helper()
	conn := testutil.NewFakeConn()
	a, err := New(Config{Subject: "images.features"}, Deps{Conn: conn, Store: store})
	require.NoError(t, err)
	require.NoError(t, a.Initialize())
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(5 * time.Second) })
	return a, conn
}

func TestNew_Validation(t *testing.T) {
	conn := testutil.NewFakeConn()
	store := &fakeStore{}

	_, err := New(Config{Subject: "s"}, Deps{Store: store})
	require.Error(t, err, "connection required")

	_, err = New(Config{Subject: "s"}, Deps{Conn: conn})
	require.Error(t, err, "store required")

	_, err = New(Config{}, Deps{Conn: conn, Store: store})
	require.Error(t, err, "subject required")
}

func TestArchiver_PersistsRecords(t *testing.T) {
	store := &fakeStore{}
	a, conn := newRunning(t, store)

	kps := []keypoint.Keypoint{
		{X: 1, Y: 2, Size: 7, Angle: -1, Response: 9, ClassID: -1},
		{X: 3, Y: 4, Size: 7, Angle: -1, Response: 5, ClassID: -1},
	}
	conn.Deliver("images.features", featureMessage("frame_7.png", kps))

	require.Eventually(t, func() bool {
		return len(store.saved()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec := store.saved()[0]
	assert.Equal(t, "frame_7.png", rec.Filename)
	assert.Equal(t, []byte("image-bytes-frame_7.png"), rec.Image)
	assert.Equal(t, 2, rec.KeypointCount)
	assert.False(t, rec.ReceivedAt.IsZero())

	decoded, err := keypoint.Decode(rec.Features)
	require.NoError(t, err)
	assert.Equal(t, kps, decoded)

	assert.Equal(t, int64(1), a.GetStats().Archived)
}

func TestArchiver_DropsMalformedMessages(t *testing.T) {
	store := &fakeStore{}
	a, conn := newRunning(t, store)

	// Wrong part count.
	conn.Deliver("images.features", frame.Marshal([]byte("a"), []byte("b")))
	// Features not a multiple of the record size.
	conn.Deliver("images.features",
		frame.Marshal([]byte("c.png"), []byte("img"), []byte("short")))
	// Not framed at all.
	conn.Deliver("images.features", []byte{0xff, 0xff, 0xff})

	conn.Deliver("images.features", featureMessage("good.png", nil))

	require.Eventually(t, func() bool {
		return len(store.saved()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "good.png", store.saved()[0].Filename)
	stats := a.GetStats()
	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(3), stats.Dropped)
}

func TestArchiver_RetriesTransientStoreFailure(t *testing.T) {
	store := &fakeStore{failNext: 2}
	a, conn := newRunning(t, store)

	conn.Deliver("images.features", featureMessage("retry.png", nil))

	require.Eventually(t, func() bool {
		return len(store.saved()) == 1
	}, 5*time.Second, 10*time.Millisecond, "save succeeds after transient failures")
	assert.Equal(t, int64(1), a.GetStats().Archived)
}

func TestArchiver_InvalidRecordNotRetried(t *testing.T) {
	store := &fakeStore{saveErr: errors.WrapInvalid(
		fmt.Errorf("filename unusable"), "fakeStore", "Save", "derive output name")}
	a, conn := newRunning(t, store)

	conn.Deliver("images.features", featureMessage("bad.png", nil))

	require.Eventually(t, func() bool {
		return a.GetStats().Errors >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, store.saved())
}

func TestArchiver_StopClosesStore(t *testing.T) {
	store := &fakeStore{}
	conn := testutil.NewFakeConn()
	a, err := New(Config{Subject: "images.features"}, Deps{Conn: conn, Store: store})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.Stop(5*time.Second))
	assert.True(t, store.closed)
	require.NoError(t, a.Stop(5*time.Second), "stop after stop is a no-op")
	require.Error(t, a.Start(context.Background()),
		"restart rejected, the store is closed")
}

func TestArchiver_Health(t *testing.T) {
	store := &fakeStore{}
	a, conn := newRunning(t, store)

	assert.True(t, a.Health().Healthy)
	conn.SetHealthy(false)
	assert.False(t, a.Health().Healthy)
	conn.SetHealthy(true)

	require.NoError(t, a.Stop(5*time.Second))
	assert.False(t, a.Health().Healthy)
}
