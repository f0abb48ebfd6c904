package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/jute-web/internal/config"
	"github.com/Brownie44l1/jute-web/internal/model"
)

const (
	imageField      = "image"
	modelField      = "model"
	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 1024
)

var (
	errMalformed = errors.New("malformed response body")
	quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")
)

// Client talks to the external inference backend. Every URL it builds comes
// from config.Backend.
type Client struct {
	backend    config.Backend
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(backend config.Backend, logger *zap.Logger) *Client {
	return &Client{
		backend:    backend,
		httpClient: &http.Client{Timeout: backend.RequestTimeout},
		logger:     logger.Named("predictor"),
	}
}

// Predict uploads img as a multipart form together with the model id and
// parses the {prediction, confidence} answer.
func (c *Client) Predict(ctx context.Context, img model.SelectedImage, choice model.ModelChoice) (model.PredictionResult, error) {
	body, contentType, err := encodeForm(img, choice)
	if err != nil {
		return model.PredictionResult{}, fmt.Errorf("failed to build prediction form: %w", err)
	}

	endpoint := c.backend.URL(c.backend.PredictPath, choice.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return model.PredictionResult{}, fmt.Errorf("failed to create prediction request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	logger := c.logger.With(
		zap.String("request_id", requestID),
		zap.String("model", choice.ID),
		zap.String("file", img.Name),
		zap.Int64("bytes", img.Size()),
	)
	logger.Debug("sending prediction request", zap.String("url", endpoint))

	var parsed model.PredictionResponse
	if err := c.do(req, &parsed); err != nil {
		logger.Error("prediction request failed", zap.Error(err))
		return model.PredictionResult{}, err
	}

	if strings.TrimSpace(parsed.Prediction) == "" || parsed.Confidence == nil {
		err := &ConnectivityError{Op: "decode prediction", Err: errMalformed}
		logger.Error("prediction request failed", zap.Error(err))
		return model.PredictionResult{}, err
	}
	if *parsed.Confidence < 0 || *parsed.Confidence > 100 {
		err := &ConnectivityError{
			Op:  "decode prediction",
			Err: fmt.Errorf("%w: confidence %v outside [0,100]", errMalformed, *parsed.Confidence),
		}
		logger.Error("prediction request failed", zap.Error(err))
		return model.PredictionResult{}, err
	}

	result := model.PredictionResult{Label: parsed.Prediction, Confidence: *parsed.Confidence}
	logger.Info("prediction complete",
		zap.String("label", result.Label),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}

// Health probes the backend health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp model.HealthResponse
	if err := c.get(ctx, c.backend.URL(c.backend.HealthPath, ""), &resp); err != nil {
		return err
	}
	if resp.Status != "" && resp.Status != "healthy" && resp.Status != "ok" {
		return fmt.Errorf("backend reports status %q", resp.Status)
	}
	return nil
}

// Models lists the model ids the backend has loaded.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var resp model.ModelsResponse
	if err := c.get(ctx, c.backend.URL(c.backend.ModelsPath, ""), &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Labels lists the class labels of one model.
func (c *Client) Labels(ctx context.Context, modelID string) ([]string, error) {
	var resp model.LabelsResponse
	if err := c.get(ctx, c.backend.URL(c.backend.LabelsPath, modelID), &resp); err != nil {
		return nil, err
	}
	return resp.Labels, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectivityError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ConnectivityError{Op: "decode " + req.URL.Path, Err: fmt.Errorf("%w: %v", errMalformed, err)}
	}
	return nil
}

func encodeForm(img model.SelectedImage, choice model.ModelChoice) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, imageField, quoteEscaper.Replace(fileName(img))))
	header.Set("Content-Type", img.MediaType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField(modelField, choice.ID); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func fileName(img model.SelectedImage) string {
	if img.Name == "" {
		return "upload"
	}
	return img.Name
}
