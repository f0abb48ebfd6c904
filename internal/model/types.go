package model

import (
	"fmt"
	"strings"
)

// SelectedImage is the image a user picked for classification.
type SelectedImage struct {
	Name      string
	MediaType string
	Data      []byte
}

func (s SelectedImage) Size() int64 {
	return int64(len(s.Data))
}

// SizeMB formats the image size the way the upload panel shows it.
func (s SelectedImage) SizeMB() string {
	return fmt.Sprintf("%.2f MB", float64(s.Size())/1024/1024)
}

// IsImageMediaType reports whether mediaType belongs to the image category.
func IsImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// PredictionResult is the label and confidence (0..100) returned for one request.
type PredictionResult struct {
	Label      string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// PredictionResponse is the body the inference backend answers with.
type PredictionResponse struct {
	Prediction string   `json:"prediction"`
	Confidence *float64 `json:"confidence"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ModelsResponse struct {
	Models []string `json:"models"`
}

type LabelsResponse struct {
	Model  string   `json:"model"`
	Labels []string `json:"labels"`
}
