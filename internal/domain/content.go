package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// ContentType identifies the shape of submitted content.
type ContentType string

const (
	ContentText ContentType = "text"
	ContentURL  ContentType = "url"
	ContentFile ContentType = "file"
	ContentQR   ContentType = "qr"
)

// Valid reports whether c is a supported content type.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentURL, ContentFile, ContentQR:
		return true
	}
	return false
}

// ScanRequest is a single piece of content submitted for scoring.
// The content has already been anonymized by the caller; ContentRef points
// back at the original.
//
// An unsupported ContentType is not a validation error: it scores as
// insufficient data.
type ScanRequest struct {
	ContentType ContentType `json:"contentType" validate:"required"`
	Payload     Payload     `json:"payload"`
	ContentRef  string      `json:"contentRef,omitempty"`
	Source      *Source     `json:"source,omitempty"`
}

// Payload carries the type-specific attributes of a scan request.
// Only the fields relevant to the content type are read.
type Payload struct {
	Text         string `json:"text,omitempty"`
	URL          string `json:"url,omitempty"`
	Filename     string `json:"filename,omitempty"`
	SourceURL    string `json:"sourceUrl,omitempty"`
	SourceDomain string `json:"sourceDomain,omitempty"`
	FileSize     int64  `json:"fileSize,omitempty"`
	QRData       string `json:"qrData,omitempty"`
}

// Source identifies where a submission came from.
type Source struct {
	IP      string `json:"ip,omitempty"`
	Account string `json:"account,omitempty"`
}

// Fingerprint returns a stable digest of the content type and payload.
func (r *ScanRequest) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(r.ContentType))
	for _, part := range []string{
		r.Payload.Text,
		r.Payload.URL,
		strings.ToLower(r.Payload.Filename),
		r.Payload.SourceURL,
		strings.ToLower(r.Payload.SourceDomain),
		strconv.FormatInt(r.Payload.FileSize, 10),
		r.Payload.QRData,
	} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Literal returns the content string the request represents for its type.
func (r *ScanRequest) Literal() string {
	switch r.ContentType {
	case ContentText:
		return r.Payload.Text
	case ContentURL:
		return r.Payload.URL
	case ContentFile:
		return r.Payload.Filename
	case ContentQR:
		return r.Payload.QRData
	}
	return ""
}
