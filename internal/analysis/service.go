// Package analysis runs the meal photo pipeline: validate, deduplicate,
// throttle, recognize, apportion, sanitize, record.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mealscan-gateway/internal/apperr"
	"mealscan-gateway/internal/blobstore"
	"mealscan-gateway/internal/cache"
	"mealscan-gateway/internal/imagecheck"
	"mealscan-gateway/internal/metrics"
	"mealscan-gateway/internal/nutrition"
	"mealscan-gateway/internal/ratelimit"
	"mealscan-gateway/internal/recognition"
	"mealscan-gateway/internal/recorder"
	"mealscan-gateway/internal/sanitize"
	"mealscan-gateway/internal/vision"
	"mealscan-gateway/pkg/logging/logging"
)

// ProviderCache labels results served from the content cache.
const ProviderCache = "cache"

// Recognizer is satisfied by *recognition.Orchestrator.
type Recognizer interface {
	Recognize(ctx context.Context, req vision.Request) (*recognition.Outcome, error)
}

// Submitter is satisfied by *recorder.Recorder.
type Submitter interface {
	Submit(job recorder.Job) bool
}

// Request is one analysis request. Exactly one of Image, Raw and ImageRef
// carries the photo.
type Request struct {
	CallerID string
	Image    imagecheck.Payload
	// Raw holds already-decoded bytes (multipart upload). RawType is the
	// declared media type; empty means sniff it.
	Raw          []byte
	RawType      string
	ImageRef     string
	CategoryHint string
}

type Response struct {
	Cached   bool
	Result   *nutrition.Result
	Provider string
	Attempts int
	Fallback bool
}

type Deps struct {
	Validator    *imagecheck.Validator
	Cache        *cache.ResultCache
	CacheVersion string
	Limiter      ratelimit.Limiter
	Recognizer   Recognizer
	Recorder     Submitter
	// Blobs resolves ImageRef. Optional.
	Blobs blobstore.Store
}

type Service struct {
	validator    *imagecheck.Validator
	cache        *cache.ResultCache
	cacheVersion string
	limiter      ratelimit.Limiter
	recognizer   Recognizer
	recorder     Submitter
	blobs        blobstore.Store

	flights singleflight.Group
	now     func() time.Time
}

func New(d Deps) *Service {
	if d.Validator == nil {
		d.Validator = imagecheck.New(0, nil)
	}
	return &Service{
		validator:    d.Validator,
		cache:        d.Cache,
		cacheVersion: d.CacheVersion,
		limiter:      d.Limiter,
		recognizer:   d.Recognizer,
		recorder:     d.Recorder,
		blobs:        d.Blobs,
		now:          time.Now,
	}
}

// flight is the shared outcome of one provider round trip.
type flight struct {
	result  *nutrition.Result
	outcome *recognition.Outcome
}

// Analyze runs the full pipeline for req.
func (s *Service) Analyze(ctx context.Context, req Request) (*Response, error) {
	start := s.now()
	logger := logging.L(ctx)

	if !vision.ValidCategory(req.CategoryHint) {
		return nil, apperr.Newf(apperr.KindInvalidFormat, "categoryHint must be one of breakfast, lunch, dinner, snack")
	}

	img, imageURL, err := s.resolveImage(ctx, req)
	if err != nil {
		return nil, err
	}
	key := cache.BuildContentKey(img.Data, s.cacheVersion)

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("cache_read_failed", zap.Error(err))
		}
		if ok {
			s.record(recorder.Job{Record: recorder.Record{
				CallerID:  req.CallerID,
				Result:    cached,
				Duration:  s.now().Sub(start),
				Provider:  ProviderCache,
				Cached:    true,
				Outcome:   recorder.OutcomeSuccess,
				ImageHash: key.Hash,
				ImageURL:  imageURL,
			}})
			s.observe(start, "cached", ProviderCache)
			return &Response{Cached: true, Result: cached, Provider: ProviderCache}, nil
		}
	}

	if s.limiter != nil {
		decision, err := s.limiter.Admit(ctx, req.CallerID)
		if err != nil {
			return nil, apperr.New(apperr.KindInternal, err)
		}
		if !decision.Allowed {
			s.observe(start, "rate_limited", "")
			return nil, apperr.WithRetryAfter(apperr.KindRateLimitExceeded, decision.RetryAfter, nil)
		}
	}

	// Identical images in flight share one provider round trip. The shared
	// call is detached from any single caller's cancellation; strategy
	// timeouts bound it.
	// Only the leader runs the function; callers that joined an in-flight
	// call are served its result the way a cache hit is.
	flightCtx := context.WithoutCancel(ctx)
	led := false
	v, err, shared := s.flights.Do(key.String(), func() (any, error) {
		led = true
		return s.recognize(flightCtx, key, img, req.CategoryHint)
	})
	f, _ := v.(*flight)
	joined := shared && !led

	provider := ""
	var resp Response
	if f != nil && f.outcome != nil {
		provider = f.outcome.Provider
		resp.Provider = provider
		resp.Attempts = f.outcome.Attempts
		resp.Fallback = f.outcome.Fallback
	}

	if err != nil {
		if apperr.Is(err, apperr.KindNoFoodDetected) {
			s.record(recorder.Job{
				Record: recorder.Record{
					CallerID:  req.CallerID,
					Duration:  s.now().Sub(start),
					Provider:  provider,
					Outcome:   recorder.OutcomeNoFoodDetected,
					ImageHash: key.Hash,
					ImageURL:  imageURL,
				},
				Image:       uploadable(img, imageURL),
				ContentType: img.ContentType,
			})
		}
		s.observe(start, string(apperr.KindOf(err)), provider)
		logger.Info("analysis_failed",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Bool("shared", shared),
			zap.Error(err),
		)
		return nil, err
	}

	result := f.result.Clone()
	resp.Cached = joined
	s.record(recorder.Job{
		Record: recorder.Record{
			CallerID:  req.CallerID,
			Result:    result,
			Duration:  s.now().Sub(start),
			Provider:  provider,
			Cached:    joined,
			Outcome:   recorder.OutcomeSuccess,
			ImageHash: key.Hash,
			ImageURL:  imageURL,
		},
		Image:       uploadable(img, imageURL),
		ContentType: img.ContentType,
	})
	s.observe(start, "success", provider)
	logger.Info("analysis_completed",
		zap.String("provider", provider),
		zap.Int("attempts", resp.Attempts),
		zap.Bool("fallback", resp.Fallback),
		zap.Bool("shared", shared),
		zap.Bool("joined", joined),
		zap.Int("items", len(result.Items)),
	)

	resp.Result = result
	return &resp, nil
}

// recognize is the body of a singleflight call.
func (s *Service) recognize(ctx context.Context, key cache.ContentKey, img imagecheck.Image, hint string) (*flight, error) {
	outcome, err := s.recognizer.Recognize(ctx, vision.Request{
		Image:        img.Data,
		ContentType:  img.ContentType,
		CategoryHint: hint,
	})
	if err != nil {
		return &flight{outcome: outcome}, err
	}

	result, err := nutrition.Apportion(outcome.Response)
	if err != nil {
		return &flight{outcome: outcome}, err
	}
	sanitize.Result(result)
	result.AnalysisID = uuid.NewString()
	result.CreatedAt = s.now().UTC()
	result.Provider = outcome.Provider

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, result); err != nil {
			logging.L(ctx).Warn("cache_write_failed", zap.Error(err))
		}
	}
	return &flight{result: result, outcome: outcome}, nil
}

func (s *Service) resolveImage(ctx context.Context, req Request) (imagecheck.Image, string, error) {
	hasInline := req.Image.Encoded != "" || len(req.Raw) > 0
	if req.ImageRef != "" && hasInline {
		return imagecheck.Image{}, "", apperr.Newf(apperr.KindInvalidFormat, "provide either image or imageRef, not both")
	}

	switch {
	case req.ImageRef != "":
		if s.blobs == nil {
			return imagecheck.Image{}, "", apperr.Newf(apperr.KindInvalidFormat, "imageRef is not supported")
		}
		data, contentType, err := s.blobs.Get(ctx, req.ImageRef)
		if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrInvalidKey) {
			return imagecheck.Image{}, "", apperr.Newf(apperr.KindInvalidFormat, "imageRef not found")
		}
		if err != nil {
			return imagecheck.Image{}, "", apperr.New(apperr.KindInternal, err)
		}
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = imagecheck.Sniff(data)
		}
		img, err := s.validator.ValidateBytes(data, contentType)
		if err != nil {
			return imagecheck.Image{}, "", err
		}
		url := ""
		if u, ok := s.blobs.(interface{ URL(string) string }); ok {
			url = u.URL(req.ImageRef)
		}
		return img, url, nil

	case len(req.Raw) > 0:
		declared := req.RawType
		if declared == "" || declared == "application/octet-stream" {
			declared = imagecheck.Sniff(req.Raw)
		}
		img, err := s.validator.ValidateBytes(req.Raw, declared)
		return img, "", err

	default:
		img, err := s.validator.Validate(req.Image)
		return img, "", err
	}
}

func (s *Service) record(job recorder.Job) {
	if s.recorder == nil {
		return
	}
	s.recorder.Submit(job)
}

func (s *Service) observe(start time.Time, outcome, provider string) {
	metrics.AnalysisDurationSeconds.
		WithLabelValues(outcome, provider).
		Observe(s.now().Sub(start).Seconds())
}

// uploadable returns the bytes to persist, or nil when the image already
// lives in the blob store.
func uploadable(img imagecheck.Image, imageURL string) []byte {
	if imageURL != "" {
		return nil
	}
	return img.Data
}
