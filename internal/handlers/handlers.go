package handlers

import (
	"context"
	"errors"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/jute-web/internal/auth"
	"github.com/Brownie44l1/jute-web/internal/events"
	"github.com/Brownie44l1/jute-web/internal/model"
	"github.com/Brownie44l1/jute-web/internal/workflow"
)

// Backend is the part of the inference service the handlers query directly.
type Backend interface {
	Health(ctx context.Context) error
	Labels(ctx context.Context, modelID string) ([]string, error)
}

type Options struct {
	MaxUploadBytes int64
	SignInURL      string
}

type Handler struct {
	workflow    *workflow.Service
	backend     Backend
	provider    auth.Provider
	authMW      *auth.Middleware
	hub         *events.Hub
	opts        Options
	logger      *zap.Logger
	unsubscribe func()
}

func NewHandler(svc *workflow.Service, backend Backend, provider auth.Provider, authMW *auth.Middleware,
	hub *events.Hub, opts Options, logger *zap.Logger) *Handler {
	h := &Handler{
		workflow: svc,
		backend:  backend,
		provider: provider,
		authMW:   authMW,
		hub:      hub,
		opts:     opts,
		logger:   logger.Named("handlers"),
	}
	h.unsubscribe = provider.OnChange(func(e auth.Event) {
		if e.Type == auth.SignedOut {
			svc.Drop(e.UserID)
		}
	})
	return h
}

// Close stops listening for session changes.
func (h *Handler) Close() {
	h.unsubscribe()
}

type pageData struct {
	Email      string
	View       workflow.View
	PreviewURL template.URL
}

func (h *Handler) Index(c *gin.Context) {
	session := auth.SessionFrom(c)
	view := h.workflow.Snapshot(session.UserID)

	data := pageData{Email: session.Email, View: view}
	if view.Preview.Status == workflow.PreviewReady {
		// Generated by preview.Generator, never user-supplied text.
		data.PreviewURL = template.URL(view.Preview.DataURI)
	}
	c.HTML(http.StatusOK, "index.html", data)
}

func (h *Handler) State(c *gin.Context) {
	session := auth.SessionFrom(c)
	c.JSON(http.StatusOK, h.workflow.Snapshot(session.UserID))
}

func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": model.Catalog(), "default": model.DefaultModel().ID})
}

func (h *Handler) Labels(c *gin.Context) {
	choice, ok := model.LookupModel(c.Param("model"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown model"})
		return
	}

	labels, err := h.backend.Labels(c.Request.Context(), choice.ID)
	if err != nil {
		h.logger.Error("failed to fetch labels", zap.String("model", choice.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": choice.ID, "labels": labels})
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{"status": "healthy", "backend": "healthy"}
	if err := h.backend.Health(ctx); err != nil {
		h.logger.Warn("backend health check failed", zap.Error(err))
		body["status"] = "degraded"
		body["backend"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) UploadImage(c *gin.Context) {
	userID := auth.SessionFrom(c).UserID
	// multipart framing adds a little on top of the file itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+64<<10)

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectUpload(c, userID, "Image Too Large", "Please choose an image smaller than the upload limit.")
			return
		}
		h.rejectUpload(c, userID, "No Image Provided", "Please choose an image file to upload.")
		return
	}
	if header.Size > h.opts.MaxUploadBytes {
		h.rejectUpload(c, userID, "Image Too Large", "Please choose an image smaller than the upload limit.")
		return
	}

	data, err := readFile(header)
	if err != nil {
		h.logger.Error("failed to read upload", zap.String("user_id", userID), zap.Error(err))
		h.rejectUpload(c, userID, "Upload Failed", "The image could not be read. Please try again.")
		return
	}

	h.logger.Debug("received file",
		zap.String("user_id", userID),
		zap.String("file", header.Filename),
		zap.Int64("bytes", header.Size))

	img := model.SelectedImage{
		Name:      header.Filename,
		MediaType: mediaType(header, data),
		Data:      data,
	}
	h.respond(c, userID, http.StatusOK, h.workflow.SelectImage(userID, img))
}

func (h *Handler) ClearImage(c *gin.Context) {
	userID := auth.SessionFrom(c).UserID
	h.respond(c, userID, http.StatusOK, h.workflow.ClearImage(userID))
}

func (h *Handler) SelectModel(c *gin.Context) {
	userID := auth.SessionFrom(c).UserID
	h.respond(c, userID, http.StatusOK, h.workflow.SelectModel(userID, c.PostForm("model")))
}

func (h *Handler) Predict(c *gin.Context) {
	userID := auth.SessionFrom(c).UserID
	h.respond(c, userID, http.StatusAccepted, h.workflow.Predict(userID))
}

func (h *Handler) SignOut(c *gin.Context) {
	session := auth.SessionFrom(c)
	if err := h.provider.SignOut(c.Request.Context(), session); err != nil {
		h.logger.Error("sign out failed", zap.String("user_id", session.UserID), zap.Error(err))
		h.workflow.Notify(session.UserID, workflow.Notification{
			Title:       "Sign out failed",
			Description: "An error occurred during sign out.",
			Variant:     workflow.VariantDestructive,
		})
		h.respond(c, session.UserID, http.StatusBadGateway, err)
		return
	}

	h.authMW.ClearCookie(c)
	if auth.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"title": "Signed out successfully", "description": "You have been logged out."})
		return
	}
	c.Redirect(http.StatusSeeOther, h.opts.SignInURL)
}

// Events streams view-change notifications to the signed-in user's browser.
func (h *Handler) Events(c *gin.Context) {
	userID := auth.SessionFrom(c).UserID
	if err := h.hub.Serve(c.Writer, c.Request, userID); err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (h *Handler) rejectUpload(c *gin.Context, userID, title, description string) {
	err := &workflow.InputError{Title: title, Reason: description}
	h.workflow.Notify(userID, workflow.Notification{
		Title:       title,
		Description: description,
		Variant:     workflow.VariantDestructive,
	})
	h.respond(c, userID, http.StatusOK, err)
}

// respond sends browsers back to the page and gives API clients the new
// state with a status derived from err.
func (h *Handler) respond(c *gin.Context, userID string, okStatus int, err error) {
	if !auth.WantsJSON(c) {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	status := okStatus
	var inputErr *workflow.InputError
	switch {
	case err == nil:
	case errors.As(err, &inputErr):
		status = http.StatusBadRequest
	case errors.Is(err, workflow.ErrBusy):
		status = http.StatusConflict
	case status < http.StatusBadRequest:
		status = http.StatusInternalServerError
	}

	body := gin.H{"state": h.workflow.Snapshot(userID)}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// mediaType prefers the declared part type and sniffs the bytes when the
// browser sent none or a generic one.
func mediaType(header *multipart.FileHeader, data []byte) string {
	declared := header.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(declared); err == nil {
		declared = parsed
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	sniffed, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return ""
	}
	return sniffed
}
