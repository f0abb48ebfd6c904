package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/jute-web/internal/model"
)

type Predictor interface {
	Predict(ctx context.Context, img model.SelectedImage, choice model.ModelChoice) (model.PredictionResult, error)
}

type Previewer interface {
	Render(img model.SelectedImage) (string, error)
}

// Listener is told which user's view changed. It is called with the
// session lock held and must not block or call back into the session.
type Listener func(userID string)

// Service owns one Session per signed-in user and runs the asynchronous
// parts of the workflow: preview rendering and prediction requests.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session
	touched  map[string]time.Time
	now      func() time.Time

	predictor Predictor
	previewer Previewer
	listener  Listener
	logger    *zap.Logger

	inflight sync.WaitGroup
}

func NewService(predictor Predictor, previewer Previewer, listener Listener, logger *zap.Logger) *Service {
	if listener == nil {
		listener = func(string) {}
	}
	return &Service{
		sessions:  make(map[string]*Session),
		touched:   make(map[string]time.Time),
		now:       time.Now,
		predictor: predictor,
		previewer: previewer,
		listener:  listener,
		logger:    logger.Named("workflow"),
	}
}

// Session returns the user's session, creating it on first use.
func (s *Service) Session(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		sess = NewSession(func() { s.listener(userID) })
		s.sessions[userID] = sess
	}
	s.touched[userID] = s.now()
	return sess
}

// Drop resets and forgets the user's session, e.g. after sign-out.
func (s *Service) Drop(userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	delete(s.touched, userID)
	s.mu.Unlock()

	if ok {
		sess.Reset()
		s.logger.Debug("session dropped", zap.String("user_id", userID))
	}
}

// EvictIdle drops sessions untouched for longer than maxIdle, except those
// waiting on a prediction, and returns how many were dropped.
func (s *Service) EvictIdle(maxIdle time.Duration) int {
	s.mu.Lock()
	cutoff := s.now().Add(-maxIdle)
	var idle []*Session
	for userID, sess := range s.sessions {
		if s.touched[userID].After(cutoff) || sess.Busy() {
			continue
		}
		idle = append(idle, sess)
		delete(s.sessions, userID)
		delete(s.touched, userID)
	}
	s.mu.Unlock()

	for _, sess := range idle {
		sess.Reset()
	}
	if len(idle) > 0 {
		s.logger.Debug("evicted idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (s *Service) RunEviction(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.EvictIdle(maxIdle)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) SelectImage(userID string, img model.SelectedImage) error {
	sess := s.Session(userID)
	gen, err := sess.SelectImage(img)
	if err != nil {
		return err
	}

	s.logger.Info("image selected",
		zap.String("user_id", userID),
		zap.String("file", img.Name),
		zap.String("media_type", img.MediaType),
		zap.Int64("bytes", img.Size()))

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		uri, err := s.previewer.Render(img)
		if err != nil {
			s.logger.Warn("preview failed", zap.String("user_id", userID), zap.Error(err))
		}
		sess.SetPreview(gen, uri, err)
	}()
	return nil
}

func (s *Service) ClearImage(userID string) error {
	return s.Session(userID).ClearImage()
}

func (s *Service) SelectModel(userID, modelID string) error {
	return s.Session(userID).SelectModel(modelID)
}

// Predict starts a prediction for the user's current image and model. It
// returns ErrBusy while another request is outstanding and an InputError
// when no image is selected; in both cases nothing is sent.
func (s *Service) Predict(userID string) error {
	sess := s.Session(userID)
	ticket, err := sess.BeginPrediction()
	if err != nil {
		if !errors.Is(err, ErrBusy) {
			s.logger.Info("prediction rejected", zap.String("user_id", userID), zap.Error(err))
		}
		return err
	}

	logger := s.logger.With(
		zap.String("user_id", userID),
		zap.String("model", ticket.Model.ID),
		zap.Uint64("generation", ticket.Generation))

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		result, err := s.predictor.Predict(context.Background(), ticket.Image, ticket.Model)
		if err != nil {
			logger.Debug("prediction failed", zap.Error(err))
		}
		if !sess.CompletePrediction(ticket, result, err) {
			logger.Info("discarding stale prediction outcome")
		}
	}()
	return nil
}

func (s *Service) Snapshot(userID string) View {
	return s.Session(userID).Snapshot()
}

func (s *Service) Notify(userID string, n Notification) {
	s.Session(userID).Notify(n)
}

// Wait blocks until every background preview and prediction has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}
