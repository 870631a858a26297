package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mealscan-gateway/internal/analysis"
	"mealscan-gateway/internal/apperr"
	"mealscan-gateway/internal/auth"
	"mealscan-gateway/internal/imagecheck"
	"mealscan-gateway/internal/nutrition"
	"mealscan-gateway/pkg/logging/logging"
)

// multipartMemory is how much of a multipart form is held in memory before
// spilling to disk.
const multipartMemory = 8 << 20

// Analyzer is satisfied by *analysis.Service.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Response, error)
}

// AnalyzeHandler serves POST /v1/meals/analyze.
type AnalyzeHandler struct {
	Analyzer Analyzer
}

func NewAnalyzeHandler(a Analyzer) *AnalyzeHandler {
	return &AnalyzeHandler{Analyzer: a}
}

type analyzeRequest struct {
	Image        string `json:"image"`
	MimeType     string `json:"mimeType,omitempty"`
	ImageRef     string `json:"imageRef,omitempty"`
	CategoryHint string `json:"categoryHint,omitempty"`
}

type analyzeResult struct {
	Items      []nutrition.Item `json:"items"`
	Totals     nutrition.Totals `json:"totals"`
	Confidence float64          `json:"confidence"`
	AnalysisID string           `json:"analysisId"`
}

type analyzeResponse struct {
	Success bool          `json:"success"`
	Cached  bool          `json:"cached"`
	Result  analyzeResult `json:"result"`
}

func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	req, err := decodeAnalyzeRequest(r)
	if err != nil {
		logger.Warn("invalid request", zap.Error(err))
		apperr.WriteHTTP(w, err)
		return
	}

	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		caller = auth.AnonymousCaller
	}
	req.CallerID = caller

	resp, err := h.Analyzer.Analyze(ctx, req)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Success: true,
		Cached:  resp.Cached,
		Result: analyzeResult{
			Items:      resp.Result.Items,
			Totals:     resp.Result.Totals,
			Confidence: resp.Result.Confidence,
			AnalysisID: resp.Result.AnalysisID,
		},
	})
}

func decodeAnalyzeRequest(r *http.Request) (analysis.Request, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		return decodeMultipart(r)
	}

	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if isTooLarge(err) {
			return analysis.Request{}, apperr.New(apperr.KindPayloadTooLarge, err)
		}
		return analysis.Request{}, apperr.Newf(apperr.KindInvalidFormat, "request body must be JSON")
	}

	return analysis.Request{
		Image: imagecheck.Payload{
			Encoded:      body.Image,
			DeclaredType: body.MimeType,
		},
		ImageRef:     strings.TrimSpace(body.ImageRef),
		CategoryHint: strings.ToLower(strings.TrimSpace(body.CategoryHint)),
	}, nil
}

func decodeMultipart(r *http.Request) (analysis.Request, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			return analysis.Request{}, apperr.New(apperr.KindPayloadTooLarge, err)
		}
		return analysis.Request{}, apperr.Newf(apperr.KindInvalidFormat, "malformed multipart form")
	}

	req := analysis.Request{
		ImageRef:     strings.TrimSpace(r.FormValue("imageRef")),
		CategoryHint: strings.ToLower(strings.TrimSpace(r.FormValue("categoryHint"))),
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return analysis.Request{}, apperr.Newf(apperr.KindInvalidFormat, "malformed image part")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isTooLarge(err) {
			return analysis.Request{}, apperr.New(apperr.KindPayloadTooLarge, err)
		}
		return analysis.Request{}, apperr.New(apperr.KindInvalidFormat, err)
	}
	req.Raw = data
	req.RawType = header.Header.Get("Content-Type")
	return req, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
