package extractor

import (
	"context"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/visionstream/detector/fast"
	"github.com/c360/visionstream/frame"
	"github.com/c360/visionstream/keypoint"
	"github.com/c360/visionstream/metric"
	"github.com/c360/visionstream/testutil"
)

type stubDetector struct {
	kps      []keypoint.Keypoint
	err      error
	panicMsg string
}

func (s *stubDetector) Name() string { return "stub" }

func (s *stubDetector) Detect(_ image.Image) ([]keypoint.Keypoint, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.kps, s.err
}

func newRunning(t *testing.T, det *stubDetector, workers int) (*Extractor, *testutil.FakeConn) {
	t.Helper()

	conn := testutil.NewFakeConn()
	e, err := New(Config{
		InputSubject:  "images.raw",
		OutputSubject: "images.features",
		Workers:       workers,
	}, Deps{Conn: conn, Detector: det})
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(5 * time.Second) })
	return e, conn
}

func rawMessage(t *testing.T, filename string) ([]byte, []byte) {
	t.Helper()
	img := testutil.EncodePNG(t, testutil.CheckerImage(48, 48, 8))
	return frame.Marshal([]byte(filename), img), img
}

func TestNew_Validation(t *testing.T) {
	conn := testutil.NewFakeConn()
	det := &stubDetector{}

	_, err := New(Config{InputSubject: "a", OutputSubject: "b"}, Deps{Detector: det})
	require.Error(t, err, "connection required")

	_, err = New(Config{InputSubject: "a", OutputSubject: "b"}, Deps{Conn: conn})
	require.Error(t, err, "detector required")

	_, err = New(Config{}, Deps{Conn: conn, Detector: det})
	require.Error(t, err, "subjects required")

	e, err := New(Config{InputSubject: "a", OutputSubject: "b"}, Deps{Conn: conn, Detector: det})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, e.config.Workers, 1, "workers defaulted")
}

func TestExtractor_EndToEnd(t *testing.T) {
	want := []keypoint.Keypoint{
		{X: 3, Y: 4, Size: 7, Angle: -1, Response: 42, Octave: 0, ClassID: -1},
		{X: 9, Y: 2, Size: 7, Angle: -1, Response: 17, Octave: 0, ClassID: -1},
	}
	_, conn := newRunning(t, &stubDetector{kps: want}, 2)

	raw, img := rawMessage(t, "frame_0001.png")
	conn.Deliver("images.raw", raw)

	msgs, err := conn.WaitForPublished("images.features", 1, 2*time.Second)
	require.NoError(t, err)

	parts, err := frame.Unmarshal(msgs[0])
	require.NoError(t, err)
	require.Len(t, parts, 3, "filename, image, features")

	assert.Equal(t, "frame_0001.png", string(parts[0]))
	assert.Equal(t, img, parts[1], "image bytes pass through unmodified")

	got, err := keypoint.Decode(parts[2])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExtractor_EmptyKeypointsStillPublished(t *testing.T) {
	_, conn := newRunning(t, &stubDetector{kps: nil}, 1)

	raw, _ := rawMessage(t, "blank.png")
	conn.Deliver("images.raw", raw)

	msgs, err := conn.WaitForPublished("images.features", 1, 2*time.Second)
	require.NoError(t, err)

	parts, err := frame.Unmarshal(msgs[0])
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Empty(t, parts[2], "zero keypoints encode to zero bytes")
}

func TestExtractor_DropsWrongPartCount(t *testing.T) {
	e, conn := newRunning(t, &stubDetector{}, 1)

	conn.Deliver("images.raw", frame.Marshal([]byte("lonely-part")))
	conn.Deliver("images.raw", frame.Marshal([]byte("a"), []byte("b"), []byte("c")))

	good, _ := rawMessage(t, "good.png")
	conn.Deliver("images.raw", good)

	msgs, err := conn.WaitForPublished("images.features", 1, 2*time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "only the well-formed message survives")

	stats := e.GetStats()
	assert.Equal(t, int64(3), stats.Received)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, int64(1), stats.Published)
}

func TestExtractor_DropsCorruptImage(t *testing.T) {
	e, conn := newRunning(t, &stubDetector{}, 1)

	conn.Deliver("images.raw",
		frame.Marshal([]byte("broken.jpg"), []byte("definitely not an image")))

	good, _ := rawMessage(t, "good.png")
	conn.Deliver("images.raw", good)

	msgs, err := conn.WaitForPublished("images.features", 1, 2*time.Second)
	require.NoError(t, err)

	parts, err := frame.Unmarshal(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "good.png", string(parts[0]))

	assert.Equal(t, int64(1), e.GetStats().Dropped)
}

func TestExtractor_DetectorPanicContained(t *testing.T) {
	det := &stubDetector{panicMsg: "index out of range"}
	e, conn := newRunning(t, det, 2)

	bad, _ := rawMessage(t, "panics.png")
	conn.Deliver("images.raw", bad)

	require.Eventually(t, func() bool {
		return e.GetStats().Dropped == 1
	}, 2*time.Second, 10*time.Millisecond, "panicking item dropped")

	// The pool is still alive: a healthy detector result flows through.
	det.panicMsg = ""
	det.kps = []keypoint.Keypoint{{X: 1, Y: 1}}
	good, _ := rawMessage(t, "after-panic.png")
	conn.Deliver("images.raw", good)

	_, err := conn.WaitForPublished("images.features", 1, 2*time.Second)
	require.NoError(t, err)
}

func TestExtractor_PublishFailureDropsItemOnly(t *testing.T) {
	det := &stubDetector{kps: []keypoint.Keypoint{{X: 1, Y: 1}}}
	e, conn := newRunning(t, det, 1)

	conn.FailPublishes(fmt.Errorf("connection reset"))
	lost, _ := rawMessage(t, "lost.png")
	conn.Deliver("images.raw", lost)

	require.Eventually(t, func() bool {
		return e.GetStats().Errors >= 1
	}, 2*time.Second, 5*time.Millisecond, "failed send counted")

	// The sender loop survives; the next item goes out normally.
	conn.FailPublishes(nil)
	kept, _ := rawMessage(t, "kept.png")
	conn.Deliver("images.raw", kept)

	msgs, err := conn.WaitForPublished("images.features", 1, 2*time.Second)
	require.NoError(t, err)

	parts, err := frame.Unmarshal(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "kept.png", string(parts[0]), "failed item not retried")
	assert.Equal(t, int64(1), e.GetStats().Published)
}

func TestExtractor_ConcurrentLoad(t *testing.T) {
	det := &stubDetector{kps: []keypoint.Keypoint{{X: 1, Y: 2, Size: 7}}}
	e, conn := newRunning(t, det, 4)

	const n = 100
	img := testutil.EncodePNG(t, testutil.CheckerImage(32, 32, 8))
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("frame_%04d.png", i)
		conn.Deliver("images.raw", frame.Marshal([]byte(name), img))
	}

	msgs, err := conn.WaitForPublished("images.features", n, 10*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, n)

	// Every input appears exactly once on the output.
	seen := make(map[string]int, n)
	for _, msg := range msgs {
		parts, err := frame.Unmarshal(msg)
		require.NoError(t, err)
		require.Len(t, parts, 3)
		seen[string(parts[0])]++
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("frame_%04d.png", i)
		assert.Equal(t, 1, seen[name], "message %s", name)
	}

	stats := e.GetStats()
	assert.Equal(t, int64(n), stats.Received)
	assert.Equal(t, int64(n), stats.Processed)
	assert.Equal(t, int64(n), stats.Published)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestExtractor_RealDetector(t *testing.T) {
	fastDet, err := fast.New(20)
	require.NoError(t, err)

	conn := testutil.NewFakeConn()
	e, err := New(Config{
		InputSubject:  "images.raw",
		OutputSubject: "images.features",
		Workers:       2,
	}, Deps{Conn: conn, Detector: fastDet})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(5 * time.Second)

	img := testutil.EncodePNG(t, testutil.CheckerImage(64, 64, 16))
	conn.Deliver("images.raw", frame.Marshal([]byte("checker.png"), img))

	msgs, err := conn.WaitForPublished("images.features", 1, 5*time.Second)
	require.NoError(t, err)

	parts, err := frame.Unmarshal(msgs[0])
	require.NoError(t, err)
	kps, err := keypoint.Decode(parts[2])
	require.NoError(t, err)
	assert.NotEmpty(t, kps, "checkerboard has corners")
}

func TestExtractor_LifecycleErrors(t *testing.T) {
	conn := testutil.NewFakeConn()
	e, err := New(Config{
		InputSubject:  "images.raw",
		OutputSubject: "images.features",
		Workers:       1,
	}, Deps{Conn: conn, Detector: &stubDetector{}})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	require.Error(t, e.Start(context.Background()), "double start rejected")

	require.NoError(t, e.Stop(5*time.Second))
	require.NoError(t, e.Stop(5*time.Second), "stop after stop is a no-op")
	require.Error(t, e.Start(context.Background()),
		"restart rejected, the queues are closed")
}

func TestExtractor_StopDrainsInFlight(t *testing.T) {
	det := &stubDetector{kps: []keypoint.Keypoint{{X: 1, Y: 1}}}
	e, conn := newRunning(t, det, 2)

	const n = 20
	img := testutil.EncodePNG(t, testutil.CheckerImage(32, 32, 8))
	for i := 0; i < n; i++ {
		conn.Deliver("images.raw",
			frame.Marshal([]byte(fmt.Sprintf("f%d.png", i)), img))
	}

	// Wait until the receiver accepted everything, then stop.
	require.Eventually(t, func() bool {
		return e.GetStats().Received == n
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop(5*time.Second))

	assert.Equal(t, int64(n), e.GetStats().Published,
		"accepted work is published before shutdown completes")
}

func TestExtractor_Health(t *testing.T) {
	e, conn := newRunning(t, &stubDetector{}, 1)

	h := e.Health()
	assert.True(t, h.Healthy)
	assert.Greater(t, h.Uptime, time.Duration(0))

	conn.SetHealthy(false)
	assert.False(t, e.Health().Healthy, "transport loss surfaces in health")
	conn.SetHealthy(true)

	require.NoError(t, e.Stop(5*time.Second))
	assert.False(t, e.Health().Healthy)
}

func TestExtractor_MetricsRegistered(t *testing.T) {
	reg := metric.NewRegistry()
	conn := testutil.NewFakeConn()

	e, err := New(Config{
		InputSubject:  "images.raw",
		OutputSubject: "images.features",
		Workers:       1,
	}, Deps{Conn: conn, Detector: &stubDetector{}, Metrics: reg})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(5 * time.Second)

	conn.Deliver("images.raw", frame.Marshal([]byte("one-part")))
	good, _ := rawMessage(t, "ok.png")
	conn.Deliver("images.raw", good)

	_, err = conn.WaitForPublished("images.features", 1, 2*time.Second)
	require.NoError(t, err)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["visionstream_extractor_messages_dropped_total"])
	assert.True(t, names["visionstream_extractor_work_queue_depth"])
	assert.True(t, names["visionstream_extractor_keypoints_per_image"])
}
