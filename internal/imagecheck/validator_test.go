package imagecheck

import (
	"encoding/base64"
	"strings"
	"testing"

	"mealscan-gateway/internal/apperr"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func pngOfSize(n int) []byte {
	b := make([]byte, n)
	copy(b, pngSignature)
	copy(b[8:], []byte{0, 0, 0, 13, 'I', 'H', 'D', 'R'})
	return b
}

func dataURI(mediaType string, b []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func TestValidateAcceptsDataURI(t *testing.T) {
	v := New(1024, nil)

	img, err := v.Validate(Payload{Encoded: dataURI("image/png", pngOfSize(200))})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if img.ContentType != "image/png" {
		t.Fatalf("expected image/png, got %s", img.ContentType)
	}
	if img.Size() != 200 {
		t.Fatalf("expected 200 bytes, got %d", img.Size())
	}
}

func TestValidateBareBase64WithDeclaredType(t *testing.T) {
	v := New(1024, nil)

	jpeg := append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 64)...)
	img, err := v.Validate(Payload{
		Encoded:      base64.StdEncoding.EncodeToString(jpeg),
		DeclaredType: "image/jpg",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if img.ContentType != "image/jpeg" {
		t.Fatalf("expected normalized image/jpeg, got %s", img.ContentType)
	}
}

func TestValidateSizeCeiling(t *testing.T) {
	const ceiling = 1024
	v := New(ceiling, nil)

	for _, size := range []int{16, ceiling - 2, ceiling - 1} {
		if _, err := v.Validate(Payload{Encoded: dataURI("image/png", pngOfSize(size))}); err != nil {
			t.Fatalf("size %d below ceiling should be accepted: %v", size, err)
		}
	}

	for _, size := range []int{ceiling, ceiling + 1, ceiling * 3} {
		_, err := v.Validate(Payload{Encoded: dataURI("image/png", pngOfSize(size))})
		if !apperr.Is(err, apperr.KindPayloadTooLarge) {
			t.Fatalf("size %d: expected PayloadTooLarge, got %v", size, err)
		}
	}
}

func TestValidateUsesDecodedNotEncodedLength(t *testing.T) {
	const ceiling = 1024
	v := New(ceiling, nil)

	// 900 bytes encode to 1200 characters, which exceeds the ceiling as a
	// character count but not as a decoded byte count.
	encoded := base64.StdEncoding.EncodeToString(pngOfSize(900))
	if len(encoded) <= ceiling {
		t.Fatalf("test setup: encoded length %d should exceed ceiling", len(encoded))
	}
	if _, err := v.Validate(Payload{Encoded: encoded, DeclaredType: "image/png"}); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

func wrapLines(s string, width int, sep string) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteString(sep)
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}

func TestValidateLineWrappedBase64(t *testing.T) {
	const ceiling = 1024
	v := New(ceiling, nil)

	encoded := base64.StdEncoding.EncodeToString(pngOfSize(ceiling - 1))
	for _, sep := range []string{"\r\n", "\n", " ", "\t"} {
		wrapped := wrapLines(encoded, 76, sep)
		if EstimateDecodedSize(wrapped) < ceiling {
			t.Fatalf("test setup: wrapped estimate should exceed ceiling")
		}

		img, err := v.Validate(Payload{Encoded: "data:image/png;base64," + wrapped})
		if err != nil {
			t.Fatalf("sep %q: expected acceptance, got %v", sep, err)
		}
		if img.Size() != ceiling-1 {
			t.Fatalf("sep %q: expected %d bytes, got %d", sep, ceiling-1, img.Size())
		}
	}
}

func TestValidateRejectsBadFormats(t *testing.T) {
	v := New(1024, nil)

	cases := []struct {
		name string
		p    Payload
	}{
		{"empty", Payload{}},
		{"no declared type", Payload{Encoded: base64.StdEncoding.EncodeToString(pngOfSize(32))}},
		{"unsupported type", Payload{Encoded: dataURI("application/pdf", []byte("%PDF-1.4"))}},
		{"not base64", Payload{Encoded: "data:image/png;base64,@@@@"}},
		{"not base64 data uri", Payload{Encoded: "data:image/png,rawbytes"}},
		{"content mismatch", Payload{Encoded: dataURI("image/jpeg", pngOfSize(64))}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(tc.p)
			if !apperr.Is(err, apperr.KindInvalidFormat) {
				t.Fatalf("expected InvalidFormat, got %v", err)
			}
		})
	}
}

func TestEstimateDecodedSize(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 100, 1023, 1024} {
		encoded := base64.StdEncoding.EncodeToString(make([]byte, n))
		if got := EstimateDecodedSize(encoded); got != int64(n) {
			t.Errorf("n=%d: expected %d, got %d", n, n, got)
		}
	}
}

func TestSniff(t *testing.T) {
	if got := Sniff(pngOfSize(64)); got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}
	if got := Sniff([]byte("plain text, not an image")); got == "image/png" {
		t.Fatalf("text must not sniff as png")
	}
}
