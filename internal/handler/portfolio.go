package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chippo_portfolio/internal/blob"
	"chippo_portfolio/internal/httputil"
	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/service"
	"chippo_portfolio/internal/transport/http/middleware"
)

// maxFormSize allows a full set of images plus form overhead.
const maxFormSize = model.MaxPortfolioImages*model.MaxImageSizeBytes + 1<<20

// PortfolioHandler serves portfolio upload, edit, delete, profile and
// featured endpoints.
type PortfolioHandler struct {
	portfolios *service.PortfolioService
	log        *zap.Logger
}

func NewPortfolioHandler(portfolios *service.PortfolioService, log *zap.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolios: portfolios, log: log.Named("portfolio_handler")}
}

// Create handles the multipart upload form.
// POST /portfolios
func (h *PortfolioHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}
	if !parseForm(w, r) {
		return
	}

	images, err := formImages(r, "images")
	if err != nil {
		h.fail(w, err)
		return
	}
	req := &model.CreatePortfolioRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Tags:        formTags(r),
		Images:      images,
	}

	p, err := h.portfolios.Create(r.Context(), user, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

// Update handles the multipart edit form. keep_images lists existing image
// refs in their new order.
// PUT /portfolios/{id}
func (h *PortfolioHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}
	if !parseForm(w, r) {
		return
	}

	images, err := formImages(r, "images")
	if err != nil {
		h.fail(w, err)
		return
	}
	req := &model.UpdatePortfolioRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Tags:        formTags(r),
		KeepImages:  r.MultipartForm.Value["keep_images"],
		NewImages:   images,
	}

	p, err := h.portfolios.Update(r.Context(), user, chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// Delete removes a portfolio. The caller confirms with ?confirm=true.
// DELETE /portfolios/{id}
func (h *PortfolioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	confirmed := r.URL.Query().Get("confirm") == "true"
	if err := h.portfolios.Delete(r.Context(), user, chi.URLParam(r, "id"), confirmed); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Mine lists the caller's portfolios with totals.
// GET /me/portfolios
func (h *PortfolioHandler) Mine(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	resp, err := h.portfolios.Profile(r.Context(), user.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Featured returns the landing page picks.
// GET /featured
func (h *PortfolioHandler) Featured(w http.ResponseWriter, r *http.Request) {
	list, err := h.portfolios.Featured(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"portfolios": list})
}

func (h *PortfolioHandler) fail(w http.ResponseWriter, err error) {
	if model.Kind(err) == model.KindRemote {
		h.log.Error("request failed", zap.Error(err))
	}
	httputil.WriteDomainError(w, err)
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrNotMultipart):
			httputil.WriteBadRequest(w, "Content-Type must be multipart/form-data")
		case errors.As(err, &tooLarge):
			httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, "Upload is too large")
		default:
			httputil.WriteBadRequest(w, "Invalid form data")
		}
		return false
	}
	return true
}

// formTags accepts repeated tags fields as well as one comma separated value.
func formTags(r *http.Request) []string {
	var tags []string
	for _, v := range r.MultipartForm.Value["tags"] {
		tags = append(tags, strings.Split(v, ",")...)
	}
	return tags
}

func formImages(r *http.Request, field string) ([]model.ImageUpload, error) {
	headers := r.MultipartForm.File[field]
	uploads := make([]model.ImageUpload, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > model.MaxImageSizeBytes {
			return nil, model.ErrFileTooLarge
		}
		upload, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

func readUpload(fh *multipart.FileHeader) (model.ImageUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return model.ImageUpload{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, contentType, err := blob.ReadImage(io.Reader(f), fh.Header.Get("Content-Type"), model.MaxImageSizeBytes)
	if err != nil {
		return model.ImageUpload{}, err
	}
	return model.ImageUpload{Name: fh.Filename, ContentType: contentType, Data: data}, nil
}
