// ABOUTME: Parses inbound HTTP requests into a canonical envelope for the request router
// ABOUTME: Handles JSON bodies with a bounded parse timeout and multipart uploads

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/pillarhq/edge-gateway/internal/auth"
)

// ErrMalformedRequest indicates a body that could not be parsed, including
// bodies that stalled past the parse timeout.
var ErrMalformedRequest = errors.New("malformed request")

// FileBlob is an uploaded file captured from a multipart request.
type FileBlob struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Envelope is the canonical unit handed to the external request router.
// Created fresh per request and discarded after the router call returns.
type Envelope struct {
	Method       string
	Path         string
	Endpoint     string // path relative to the API prefix, e.g. "roadmaps/generate"
	Headers      map[string]string
	QueryParams  map[string]string
	Body         map[string]any
	Files        map[string]FileBlob
	SessionToken string
	Auth         *auth.Context
}

// EnvelopeBuilder parses raw HTTP requests into envelopes. It performs no
// auth or routing decisions.
type EnvelopeBuilder struct {
	bodyTimeout time.Duration
	logger      *slog.Logger
}

// NewEnvelopeBuilder creates a builder with the given JSON parse timeout.
func NewEnvelopeBuilder(bodyTimeout time.Duration, logger *slog.Logger) *EnvelopeBuilder {
	return &EnvelopeBuilder{bodyTimeout: bodyTimeout, logger: logger}
}

// Build parses the request into an envelope. An absent body never fails;
// an unparseable or too-slow body fails with ErrMalformedRequest.
func (b *EnvelopeBuilder) Build(r *http.Request) (*Envelope, error) {
	env := &Envelope{
		Method:       r.Method,
		Path:         r.URL.Path,
		Headers:      flattenValues(r.Header),
		QueryParams:  flattenValues(r.URL.Query()),
		Body:         make(map[string]any),
		Files:        make(map[string]FileBlob),
		SessionToken: sessionToken(r),
	}

	mediaType := requestMediaType(r)
	switch {
	case mediaType == "multipart/form-data":
		if err := b.parseMultipart(r, env); err != nil {
			return nil, err
		}
	case strings.HasSuffix(mediaType, "json") || mediaType == "":
		if err := b.parseJSON(r, env); err != nil {
			return nil, err
		}
	default:
		// Unhandled content types pass through with an empty body; the
		// router decides whether it cares.
	}

	return env, nil
}

// parseJSON decodes a JSON object body with a bounded timeout so a
// slow-streaming client cannot pin the handling goroutine indefinitely.
func (b *EnvelopeBuilder) parseJSON(r *http.Request, env *Envelope) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	type result struct {
		body map[string]any
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var body map[string]any
		err := json.NewDecoder(r.Body).Decode(&body)
		done <- result{body: body, err: err}
	}()

	timer := time.NewTimer(b.bodyTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				return nil // absent body
			}
			return fmt.Errorf("%w: %v", ErrMalformedRequest, res.err)
		}
		if res.body != nil {
			env.Body = res.body
		}
		return nil
	case <-timer.C:
		// The decode goroutine stays blocked on the client read until the
		// server closes the connection; the handler must not wait for it.
		return fmt.Errorf("%w: body read exceeded %s", ErrMalformedRequest, b.bodyTimeout)
	}
}

// parseMultipart iterates form parts. Parts with a filename become FileBlobs;
// a file that reads zero bytes is logged and treated as absent to tolerate
// empty optional uploads. Other parts become string body fields.
func (b *EnvelopeBuilder) parseMultipart(r *http.Request, env *Envelope) error {
	mr, err := r.MultipartReader()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading multipart: %v", ErrMalformedRequest, err)
		}

		data, err := io.ReadAll(part)
		closeErr := part.Close()
		if err != nil {
			return fmt.Errorf("%w: reading part %q: %v", ErrMalformedRequest, part.FormName(), err)
		}
		if closeErr != nil {
			return fmt.Errorf("%w: closing part %q: %v", ErrMalformedRequest, part.FormName(), closeErr)
		}

		if part.FileName() != "" {
			if len(data) == 0 {
				b.logger.Warn("skipping empty file upload",
					"field", part.FormName(),
					"filename", part.FileName(),
				)
				continue
			}
			env.Files[part.FormName()] = FileBlob{
				Filename:    part.FileName(),
				Data:        data,
				ContentType: part.Header.Get("Content-Type"),
			}
			continue
		}

		env.Body[part.FormName()] = string(data)
	}
}

// requestMediaType returns the normalized media type of the request body.
func requestMediaType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mediaType
}

// sessionToken extracts the caller's session token from header or query.
func sessionToken(r *http.Request) string {
	if tok := r.Header.Get("X-Session-Token"); tok != "" {
		return tok
	}
	return r.URL.Query().Get("session_token")
}

// flattenValues keeps the first value per key, matching what the router
// consumes downstream.
func flattenValues[M ~map[string][]string](values M) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
