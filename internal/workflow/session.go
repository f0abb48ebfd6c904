package workflow

import (
	"fmt"
	"sync"

	"github.com/Brownie44l1/jute-web/internal/model"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a transient advisory message shown once to the user.
type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

type PreviewStatus string

const (
	PreviewNone    PreviewStatus = "none"
	PreviewPending PreviewStatus = "pending"
	PreviewReady   PreviewStatus = "ready"
	PreviewFailed  PreviewStatus = "failed"
)

type Preview struct {
	Status  PreviewStatus `json:"status"`
	DataURI string        `json:"data_uri,omitempty"`
}

// Ticket identifies one prediction request. Its generation decides whether
// the outcome may still be applied when it arrives.
type Ticket struct {
	Generation uint64
	Image      model.SelectedImage
	Model      model.ModelChoice
}

// Session is the view state of one signed-in user. All methods are safe for
// concurrent use; each runs to completion under the session lock.
type Session struct {
	mu         sync.Mutex
	generation uint64
	image      *model.SelectedImage
	preview    Preview
	choice     model.ModelChoice
	busy       bool
	result     *model.PredictionResult
	resultFor  model.ModelChoice
	notices    []Notification
	changed    func()
}

func NewSession(changed func()) *Session {
	if changed == nil {
		changed = func() {}
	}
	return &Session{
		choice:  model.DefaultModel(),
		preview: Preview{Status: PreviewNone},
		changed: changed,
	}
}

// SelectImage replaces the current image and invalidates any result. The
// returned generation must be passed to SetPreview.
func (s *Session) SelectImage(img model.SelectedImage) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return 0, ErrBusy
	}
	if !model.IsImageMediaType(img.MediaType) {
		err := unsupportedType(img.MediaType)
		s.pushInputError(err)
		return 0, err
	}

	s.generation++
	s.image = &img
	s.preview = Preview{Status: PreviewPending}
	s.result = nil
	s.changed()
	return s.generation, nil
}

// SetPreview stores the preview computed for generation gen. Previews for a
// replaced or cleared image are dropped.
func (s *Session) SetPreview(gen uint64, dataURI string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.image == nil {
		return false
	}
	if err != nil {
		s.preview = Preview{Status: PreviewFailed}
	} else {
		s.preview = Preview{Status: PreviewReady, DataURI: dataURI}
	}
	s.changed()
	return true
}

func (s *Session) ClearImage() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrBusy
	}
	s.generation++
	s.image = nil
	s.preview = Preview{Status: PreviewNone}
	s.result = nil
	s.changed()
	return nil
}

func (s *Session) SelectModel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrBusy
	}
	choice, ok := model.LookupModel(id)
	if !ok {
		s.pushInputError(errUnknownModel)
		return errUnknownModel
	}
	s.choice = choice
	s.changed()
	return nil
}

// BeginPrediction marks the session busy and hands out a ticket for the
// current image and model.
func (s *Session) BeginPrediction() (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return Ticket{}, ErrBusy
	}
	if s.image == nil {
		s.pushInputError(errNoImage)
		return Ticket{}, errNoImage
	}

	s.busy = true
	s.result = nil
	s.changed()
	return Ticket{Generation: s.generation, Image: *s.image, Model: s.choice}, nil
}

// CompletePrediction applies the outcome of the request behind t. It returns
// false when the session moved on (new image, clear, reset) and the outcome
// was discarded.
func (s *Session) CompletePrediction(t Ticket, result model.PredictionResult, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Generation != s.generation || !s.busy {
		return false
	}

	s.busy = false
	if err != nil {
		s.push(Notification{
			Title:       "Prediction Failed",
			Description: "Unable to connect to the prediction service. Please check your backend server.",
			Variant:     VariantDestructive,
		})
	} else {
		s.result = &result
		s.resultFor = t.Model
		s.push(Notification{
			Title:       "Prediction Complete",
			Description: fmt.Sprintf("Identified as %s with %s confidence.", result.Label, model.FormatPercent(result.Confidence)),
			Variant:     VariantDefault,
		})
	}
	s.changed()
	return true
}

// Busy reports whether a prediction request is outstanding.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Reset drops all state, including an in-flight request whose outcome will
// be discarded when it arrives.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.image = nil
	s.preview = Preview{Status: PreviewNone}
	s.choice = model.DefaultModel()
	s.busy = false
	s.result = nil
	s.notices = nil
	s.changed()
}

func (s *Session) Notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.push(n)
	s.changed()
}

func (s *Session) push(n Notification) {
	s.notices = append(s.notices, n)
}

func (s *Session) pushInputError(err *InputError) {
	s.push(Notification{Title: err.Title, Description: err.Reason, Variant: VariantDestructive})
	s.changed()
}
