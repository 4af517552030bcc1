package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bidhouse/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	formFieldTitle      = "title"
	formFieldDesc       = "description"
	formFieldStartPrice = "start_price"
	formFieldStartTime  = "start_time"
	formFieldEndTime    = "end_time"
)

// AuctionHandler serves auction and bid endpoints.
type AuctionHandler struct {
	auctionService *services.AuctionService
	bidService     *services.BidService
	uploads        *services.UploadService
	logger         *zap.Logger
}

func NewAuctionHandler(
	auctionService *services.AuctionService,
	bidService *services.BidService,
	uploads *services.UploadService,
	logger *zap.Logger,
) *AuctionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuctionHandler{
		auctionService: auctionService,
		bidService:     bidService,
		uploads:        uploads,
		logger:         logger,
	}
}

// AuctionRouter registers auction routes on the given router.
func AuctionRouter(r chi.Router, handler *AuctionHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Get("/", handler.ListActive)
	r.Route("/me", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", handler.CreateAuction)
		r.Get("/", handler.ListMine)
		r.Get("/bidding", handler.ListBidding)
		r.Get("/won", handler.ListWon)
		r.Put("/{auctionID}", handler.UpdateAuction)
		r.Delete("/{auctionID}", handler.DeleteAuction)
	})
	r.Route("/{auctionID}", func(r chi.Router) {
		r.Get("/", handler.GetAuction)
		r.Get("/bids", handler.ListBids)
		r.With(authMiddleware).Post("/bids", handler.PlaceBid)
	})
}

// ListActive returns open auctions flagged with whether the caller has bid.
func (h *AuctionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	email, ok := callerEmail(w, r)
	if !ok {
		return
	}
	auctions, err := h.auctionService.FindAllAuctions(r.Context(), email)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list auctions")
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (h *AuctionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	email, ok := callerEmail(w, r)
	if !ok {
		return
	}
	auctions, err := h.auctionService.FindAuctionsCreatedByUser(r.Context(), email)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list auctions")
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (h *AuctionHandler) ListBidding(w http.ResponseWriter, r *http.Request) {
	email, ok := callerEmail(w, r)
	if !ok {
		return
	}
	auctions, err := h.auctionService.FindBiddingAuctionsByUser(r.Context(), email)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list auctions")
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (h *AuctionHandler) ListWon(w http.ResponseWriter, r *http.Request) {
	email, ok := callerEmail(w, r)
	if !ok {
		return
	}
	auctions, err := h.auctionService.FindWonAuctionsByUser(r.Context(), email)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list auctions")
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := parseAuctionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auction, err := h.auctionService.FindAuctionByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to fetch auction")
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	email, ok := callerEmail(w, r)
	if !ok {
		return
	}

	form, err := parseAuctionForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(form); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err).Error())
		return
	}

	imagePath, err := saveFormImage(r, h.uploads, services.DomainAuctions)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to store image")
		return
	}

	created, err := h.auctionService.CreateAuction(r.Context(), services.CreateAuctionInput{
		Title:       *form.Title,
		Description: deref(form.Description),
		StartPrice:  *form.StartPrice,
		StartTime:   form.StartTime,
		EndTime:     *form.EndTime,
	}, email, imagePath)
	if err != nil {
		removeUpload(r.Context(), h.uploads, h.logger, imagePath)
		writeServiceError(w, h.logger, err, "failed to create auction")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *AuctionHandler) UpdateAuction(w http.ResponseWriter, r *http.Request) {
	email, ok := callerEmail(w, r)
	if !ok {
		return
	}
	id, err := parseAuctionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	form, err := parseAuctionForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	imagePath, err := saveFormImage(r, h.uploads, services.DomainAuctions)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to store image")
		return
	}

	updated, err := h.auctionService.UpdateAuction(r.Context(), id, email, services.UpdateAuctionInput{
		Title:       form.Title,
		Description: form.Description,
		StartPrice:  form.StartPrice,
		StartTime:   form.StartTime,
		EndTime:     form.EndTime,
	}, imagePath)
	if err != nil {
		removeUpload(r.Context(), h.uploads, h.logger, imagePath)
		writeServiceError(w, h.logger, err, "failed to update auction")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *AuctionHandler) DeleteAuction(w http.ResponseWriter, r *http.Request) {
	email, ok := callerEmail(w, r)
	if !ok {
		return
	}
	id, err := parseAuctionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.auctionService.DeleteAuction(r.Context(), id, email)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to delete auction")
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, err := parseAuctionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bids, err := h.bidService.ListBids(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list bids")
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	email, ok := callerEmail(w, r)
	if !ok {
		return
	}
	id, err := parseAuctionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req PlaceBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := h.bidService.PlaceBid(r.Context(), id, email, req.Amount)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to place bid")
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}


// AuctionForm is the parsed multipart payload of create and update. Absent
// fields stay nil.
type AuctionForm struct {
	Title       *string    `form:"title" validate:"required"`
	Description *string    `form:"description"`
	StartPrice  *string    `form:"start_price" validate:"required"`
	StartTime   *time.Time `form:"start_time"`
	EndTime     *time.Time `form:"end_time" validate:"required"`
}

type PlaceBidRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

func parseAuctionForm(r *http.Request) (AuctionForm, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return AuctionForm{}, errors.New("invalid multipart form")
	}

	var form AuctionForm
	form.Title = formValue(r, formFieldTitle)
	if form.Title != nil && *form.Title == "" {
		return AuctionForm{}, errors.New("title cannot be empty")
	}
	form.Description = formValue(r, formFieldDesc)
	form.StartPrice = formValue(r, formFieldStartPrice)

	var err error
	if form.StartTime, err = parseFormTime(r, formFieldStartTime); err != nil {
		return AuctionForm{}, err
	}
	if form.EndTime, err = parseFormTime(r, formFieldEndTime); err != nil {
		return AuctionForm{}, err
	}
	if form.StartTime != nil && form.EndTime != nil && !form.EndTime.After(*form.StartTime) {
		return AuctionForm{}, errors.New("end_time must be after start_time")
	}
	return form, nil
}

// formValue returns the trimmed field, or nil when the field was not sent.
func formValue(r *http.Request, field string) *string {
	values, ok := r.MultipartForm.Value[field]
	if !ok || len(values) == 0 {
		return nil
	}
	v := strings.TrimSpace(values[0])
	return &v
}

func parseFormTime(r *http.Request, field string) (*time.Time, error) {
	raw := formValue(r, field)
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, errors.New("invalid " + field + ": expected RFC 3339 timestamp")
	}
	return &parsed, nil
}

func callerEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, err := emailFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return email, true
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
