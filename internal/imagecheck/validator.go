// Package imagecheck validates incoming meal photos before they reach the
// recognition pipeline.
package imagecheck

import (
	"encoding/base64"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"mealscan-gateway/internal/apperr"
)

// DefaultMaxBytes is the decoded size ceiling (10 MiB).
const DefaultMaxBytes int64 = 10 << 20

// DefaultAllowedTypes are the media types the pipeline understands.
var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/heic",
}

// Payload is an encoded image as received from a caller. Encoded is either a
// data URI ("data:image/png;base64,....") or bare base64 with DeclaredType set.
type Payload struct {
	Encoded      string
	DeclaredType string
}

// Image is a validated, decoded image.
type Image struct {
	Data        []byte
	ContentType string
}

// Size returns the decoded byte length.
func (i Image) Size() int { return len(i.Data) }

type Validator struct {
	MaxBytes int64
	allowed  map[string]struct{}
}

// New returns a Validator. maxBytes <= 0 uses DefaultMaxBytes; an empty
// allowed list uses DefaultAllowedTypes.
func New(maxBytes int64, allowed []string) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	set := make(map[string]struct{}, len(allowed))
	for _, t := range allowed {
		set[normalizeType(t)] = struct{}{}
	}
	return &Validator{MaxBytes: maxBytes, allowed: set}
}

// Validate checks presence, declared type and size of an encoded payload and
// returns the decoded image.
func (v *Validator) Validate(p Payload) (Image, error) {
	encoded := strings.TrimSpace(p.Encoded)
	if encoded == "" {
		return Image{}, apperr.Newf(apperr.KindInvalidFormat, "image payload is required")
	}

	declared := p.DeclaredType
	if strings.HasPrefix(encoded, "data:") {
		meta, data, ok := strings.Cut(encoded, ",")
		if !ok {
			return Image{}, apperr.Newf(apperr.KindInvalidFormat, "malformed data URI")
		}
		mediaType, params, _ := strings.Cut(strings.TrimPrefix(meta, "data:"), ";")
		if !strings.Contains(params, "base64") {
			return Image{}, apperr.Newf(apperr.KindInvalidFormat, "data URI must be base64 encoded")
		}
		declared = mediaType
		encoded = data
	}
	// MIME-style payloads wrap at 76 columns; line breaks carry no data.
	encoded = stripSpace(encoded)

	declared = normalizeType(declared)
	if err := v.checkType(declared); err != nil {
		return Image{}, err
	}

	// Reject on the encoded length before paying for the decode.
	if EstimateDecodedSize(encoded) >= v.MaxBytes {
		return Image{}, apperr.New(apperr.KindPayloadTooLarge, nil)
	}

	data, err := decode(encoded)
	if err != nil {
		return Image{}, apperr.New(apperr.KindInvalidFormat, err)
	}

	return v.ValidateBytes(data, declared)
}

// ValidateBytes validates already-decoded image bytes, e.g. a multipart file
// part or a blob fetched by reference.
func (v *Validator) ValidateBytes(data []byte, declared string) (Image, error) {
	if len(data) == 0 {
		return Image{}, apperr.Newf(apperr.KindInvalidFormat, "image payload is required")
	}

	declared = normalizeType(declared)
	if err := v.checkType(declared); err != nil {
		return Image{}, err
	}
	if int64(len(data)) >= v.MaxBytes {
		return Image{}, apperr.New(apperr.KindPayloadTooLarge, nil)
	}

	if !mimetype.Detect(data).Is(declared) {
		return Image{}, apperr.Newf(apperr.KindInvalidFormat, "image content does not match declared type %s", declared)
	}

	return Image{Data: data, ContentType: declared}, nil
}

func (v *Validator) checkType(declared string) error {
	if declared == "" {
		return apperr.Newf(apperr.KindInvalidFormat, "image media type is required")
	}
	if _, ok := v.allowed[declared]; !ok {
		return apperr.Newf(apperr.KindInvalidFormat, "unsupported image type")
	}
	return nil
}

// EstimateDecodedSize returns the byte length represented by a base64 string
// of n characters (3n/4 minus padding).
func EstimateDecodedSize(encoded string) int64 {
	n := int64(len(encoded))
	size := n * 3 / 4
	switch {
	case strings.HasSuffix(encoded, "=="):
		size -= 2
	case strings.HasSuffix(encoded, "="):
		size--
	}
	if size < 0 {
		return 0
	}
	return size
}

func stripSpace(s string) string {
	if !strings.ContainsFunc(s, unicode.IsSpace) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func decode(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if data, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return data, nil
	}
	if data, urlErr := base64.URLEncoding.DecodeString(s); urlErr == nil {
		return data, nil
	}
	return nil, err
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if mediaType, _, ok := strings.Cut(t, ";"); ok {
		t = strings.TrimSpace(mediaType)
	}
	if t == "image/jpg" {
		return "image/jpeg"
	}
	return t
}

// Sniff returns the media type detected from the leading bytes of data,
// without parameters.
func Sniff(data []byte) string {
	mt, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return normalizeType(mt)
}
