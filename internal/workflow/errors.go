package workflow

import "errors"

// ErrBusy is returned by interactions attempted while a prediction is in
// flight. Callers treat it as a no-op.
var ErrBusy = errors.New("prediction in progress")

// InputError is a user input problem: no image, an unsupported file type or
// an unknown model.
type InputError struct {
	Title  string
	Reason string
}

func (e *InputError) Error() string {
	return e.Reason
}

var (
	errNoImage = &InputError{
		Title:  "No Image Selected",
		Reason: "Please upload an image before making a prediction.",
	}
	errUnknownModel = &InputError{
		Title:  "Unknown Model",
		Reason: "Please choose one of the available models.",
	}
)

func unsupportedType(mediaType string) *InputError {
	if mediaType == "" {
		mediaType = "unknown"
	}
	return &InputError{
		Title:  "Unsupported File",
		Reason: "Only image files can be classified (got " + mediaType + "). Supported formats: JPG, PNG, WEBP.",
	}
}
