package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Brownie44l1/jute-web/internal/model"
)

type fakePredictor struct {
	mu     sync.Mutex
	calls  int
	gate   chan struct{}
	result model.PredictionResult
	err    error
}

func (f *fakePredictor) Predict(ctx context.Context, img model.SelectedImage, choice model.ModelChoice) (model.PredictionResult, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return f.result, f.err
}

func (f *fakePredictor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePreviewer struct {
	err error
}

func (f fakePreviewer) Render(img model.SelectedImage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "data:image/jpeg;base64,AAAA", nil
}

func newTestService(p Predictor) (*Service, *[]string) {
	var mu sync.Mutex
	var changed []string
	svc := NewService(p, fakePreviewer{}, func(userID string) {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, userID)
	}, zap.NewNop())
	return svc, &changed
}

func TestServiceRendersPreviewAsynchronously(t *testing.T) {
	svc, changed := newTestService(&fakePredictor{})

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	svc.Wait()

	v := svc.Snapshot("u1")
	assert.Equal(t, PreviewReady, v.Preview.Status)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", v.Preview.DataURI)
	assert.Contains(t, *changed, "u1")
}

func TestServicePreviewFailureIsNotFatal(t *testing.T) {
	svc := NewService(&fakePredictor{}, fakePreviewer{err: errors.New("bad image")}, nil, zap.NewNop())

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	svc.Wait()

	v := svc.Snapshot("u1")
	assert.Equal(t, PreviewFailed, v.Preview.Status)
	assert.NotNil(t, v.Image)
}

func TestServicePredictWithoutImageSendsNothing(t *testing.T) {
	p := &fakePredictor{}
	svc, _ := newTestService(p)

	err := svc.Predict("u1")
	var inputErr *InputError
	require.True(t, errors.As(err, &inputErr))
	svc.Wait()
	assert.Equal(t, 0, p.Calls())
}

func TestServicePredictSuccess(t *testing.T) {
	p := &fakePredictor{result: model.PredictionResult{Label: "Tossa", Confidence: 92.5}}
	svc, _ := newTestService(p)

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	require.NoError(t, svc.Predict("u1"))
	svc.Wait()

	v := svc.Snapshot("u1")
	require.NotNil(t, v.Result)
	assert.Equal(t, "Tossa", v.Result.Label)
	assert.Equal(t, model.TierHigh, v.Result.Tier)
	assert.Equal(t, "92.5%", v.Result.Percent)
	assert.False(t, v.Busy)
}

func TestServicePredictFailureLeavesNoResult(t *testing.T) {
	p := &fakePredictor{err: errors.New("server error: 500")}
	svc, _ := newTestService(p)

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	require.NoError(t, svc.Predict("u1"))
	svc.Wait()

	v := svc.Snapshot("u1")
	assert.Nil(t, v.Result)
	assert.False(t, v.Busy)
	titles := make([]string, 0, len(v.Notifications))
	for _, n := range v.Notifications {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "Prediction Failed")
}

func TestServiceAtMostOneRequestInFlight(t *testing.T) {
	p := &fakePredictor{gate: make(chan struct{}), result: model.PredictionResult{Label: "Tossa", Confidence: 92.5}}
	svc, _ := newTestService(p)

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	require.NoError(t, svc.Predict("u1"))
	assert.ErrorIs(t, svc.Predict("u1"), ErrBusy)
	assert.True(t, svc.Snapshot("u1").Busy)

	close(p.gate)
	svc.Wait()

	assert.Equal(t, 1, p.Calls())
	assert.False(t, svc.Snapshot("u1").Busy)
}

func TestServiceDropDiscardsInflightResult(t *testing.T) {
	p := &fakePredictor{gate: make(chan struct{}), result: model.PredictionResult{Label: "Tossa", Confidence: 92.5}}
	svc, _ := newTestService(p)

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	require.NoError(t, svc.Predict("u1"))
	svc.Drop("u1")

	close(p.gate)
	svc.Wait()

	v := svc.Snapshot("u1")
	assert.Nil(t, v.Result)
	assert.Nil(t, v.Image)
	assert.False(t, v.Busy)
}

func TestServiceSessionsAreIsolated(t *testing.T) {
	svc, _ := newTestService(&fakePredictor{})

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	require.NoError(t, svc.SelectModel("u2", model.ModelPhone))
	svc.Wait()

	assert.NotNil(t, svc.Snapshot("u1").Image)
	assert.Nil(t, svc.Snapshot("u2").Image)
	assert.Equal(t, model.ModelMicro, svc.Snapshot("u1").Model.ID)
	assert.Equal(t, model.ModelPhone, svc.Snapshot("u2").Model.ID)
}

func TestServicePredictFailureLoggedBelowError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := &fakePredictor{err: errors.New("server error: 500")}
	svc := NewService(p, fakePreviewer{}, nil, zap.New(core))

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	require.NoError(t, svc.Predict("u1"))
	svc.Wait()

	assert.Equal(t, 0, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("prediction failed").Len())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestServiceEvictsIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(&fakePredictor{})
	svc.now = clock.Now

	require.NoError(t, svc.SelectImage("idle", jpegImage("a.jpg")))
	require.NoError(t, svc.SelectImage("active", jpegImage("b.jpg")))
	svc.Wait()

	clock.Advance(20 * time.Minute)
	svc.Snapshot("active")
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, svc.EvictIdle(30*time.Minute))
	assert.Nil(t, svc.Snapshot("idle").Image, "evicted session starts empty")
	assert.NotNil(t, svc.Snapshot("active").Image)
}

func TestServiceKeepsBusySessionsOnEviction(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	gate := make(chan struct{})
	p := &fakePredictor{gate: gate, result: model.PredictionResult{Label: "Tossa", Confidence: 95}}
	svc, _ := newTestService(p)
	svc.now = clock.Now

	require.NoError(t, svc.SelectImage("u1", jpegImage("a.jpg")))
	require.NoError(t, svc.Predict("u1"))

	clock.Advance(time.Hour)
	assert.Equal(t, 0, svc.EvictIdle(30*time.Minute))

	close(gate)
	svc.Wait()
	v := svc.Snapshot("u1")
	require.NotNil(t, v.Result)
	assert.Equal(t, "Tossa", v.Result.Label)
}

func TestServiceRunEvictionStopsWithContext(t *testing.T) {
	svc, _ := newTestService(&fakePredictor{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.RunEviction(ctx, time.Millisecond, time.Hour)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction loop did not stop")
	}
}
