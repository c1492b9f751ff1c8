package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rigstore/apiserver/internal/services"
	"github.com/rigstore/apiserver/internal/store"
	"github.com/rigstore/apiserver/types"
)

const (
	maxMultipartMemory = 16 << 20
	maxImageBytes      = 16 << 20
	formFieldImage     = "image"
)

// ListingHandler provides HTTP handlers for catalog listings.
type ListingHandler struct {
	catalogService *services.CatalogService
}

// NewListingHandler constructs a handler with the provided service.
func NewListingHandler(catalogService *services.CatalogService) *ListingHandler {
	return &ListingHandler{catalogService: catalogService}
}

// ListingRouter registers listing routes on the given router. Reads are
// public; writes require an authenticated admin.
func ListingRouter(r chi.Router, catalogService *services.CatalogService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewListingHandler(catalogService)

	r.Get("/", handler.ListListings)
	r.With(authMiddleware, RequireAdmin).Post("/", handler.CreateListing)
	r.Route("/{listingID}", func(r chi.Router) {
		r.Get("/", handler.GetListing)
		r.With(authMiddleware, RequireAdmin).Put("/", handler.UpdateListing)
		r.With(authMiddleware, RequireAdmin).Delete("/", handler.DeleteListing)
		r.Get("/image", handler.GetListingImage)
		r.With(authMiddleware, RequireAdmin).Post("/image", handler.UploadListingImage)
	})
}

func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.catalogService.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}

	resp := ListingListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := h.catalogService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch listing")
		return
	}

	writeJSON(w, http.StatusOK, listing)
}

func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ListingUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ownerID := identity.UserID
	created, err := h.catalogService.Create(r.Context(), types.Listing{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		ImageKey:    req.ImageKey,
		Specs:       req.Specs,
		Category:    req.Category,
		UserID:      &ownerID,
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create listing")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *ListingHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ListingUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.catalogService.Update(r.Context(), types.Listing{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		ImageKey:    req.ImageKey,
		Specs:       req.Specs,
		Category:    req.Category,
	}, identity.UserID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "listing not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update listing")
		}
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *ListingHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.catalogService.Delete(r.Context(), id, identity.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete listing")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadListingImage stores a multipart image for the listing in object
// storage and records its key.
func (h *ListingHandler) UploadListingImage(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, err := parseImageFile(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := h.catalogService.UploadImage(r.Context(), id, file.Filename, file.ContentType, file.Data)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "listing not found")
		case errors.Is(err, services.ErrStorageDisabled):
			writeError(w, http.StatusServiceUnavailable, "image storage unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to store image")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"image_key": key})
}

// GetListingImage streams the listing's stored image back to the caller.
func (h *ListingHandler) GetListingImage(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reader, err := h.catalogService.OpenImage(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, services.ErrNoImage):
			writeError(w, http.StatusNotFound, "image not found")
		case errors.Is(err, services.ErrStorageDisabled):
			writeError(w, http.StatusServiceUnavailable, "image storage unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to fetch image")
		}
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

// ListingUpsertRequest is the JSON payload for creating or updating a
// listing.
type ListingUpsertRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageKey    string  `json:"image_key"`
	Specs       string  `json:"specs"`
	Category    string  `json:"category"`
}

// ListingListResponse is the paginated list response payload.
type ListingListResponse struct {
	Items []types.Listing `json:"items"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Total int             `json:"total"`
}

// ImageFile represents an uploaded listing image.
type ImageFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

func parseImageFile(form *multipart.Form) (ImageFile, error) {
	if form == nil {
		return ImageFile{}, errors.New("missing form data")
	}

	files := form.File[formFieldImage]
	if len(files) == 0 {
		return ImageFile{}, errors.New("image file is required")
	}
	if len(files) > 1 {
		return ImageFile{}, errors.New("only one image file is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return ImageFile{}, errors.New("failed to read image file")
	}

	data, err := readFileLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		return ImageFile{}, err
	}

	return ImageFile{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
