// Package transport holds what the inbound bridges share: the text-only
// payload check and the retry classification of handling errors.
package transport

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/registry"
)

// ErrUnsupportedPayload is returned for messages that do not carry text.
var ErrUnsupportedPayload = errors.New("unsupported payload")

// Rejection reasons used as metric labels.
const (
	ReasonUnsupportedPayload = "unsupported_payload"
	ReasonPermanent          = "permanent_error"
	ReasonRetryable          = "retryable_error"
)

// EventReceiver accepts the text of one message received on a channel.
// Implemented by registry.Registry.
type EventReceiver interface {
	EventReceived(ctx context.Context, channelKey, text string) (ir.Occurrence, error)
}

// PayloadText returns body as text when contentType denotes a text
// format. A message without content type is accepted when it is valid
// UTF-8.
func PayloadText(contentType string, body []byte) (string, error) {
	if strings.TrimSpace(contentType) == "" {
		if !utf8.Valid(body) {
			return "", fmt.Errorf("%w: body without content type is not UTF-8 text", ErrUnsupportedPayload)
		}
		return string(body), nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: content type %q: %v", ErrUnsupportedPayload, contentType, err)
	}
	if !isTextMediaType(mediaType) {
		return "", fmt.Errorf("%w: content type %s", ErrUnsupportedPayload, mediaType)
	}
	if cs, ok := params["charset"]; ok && !strings.EqualFold(cs, "utf-8") && !strings.EqualFold(cs, "us-ascii") {
		return "", fmt.Errorf("%w: charset %s", ErrUnsupportedPayload, cs)
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: body is not UTF-8 text", ErrUnsupportedPayload)
	}
	return string(body), nil
}

func isTextMediaType(mediaType string) bool {
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/json", mediaType == "application/xml":
		return true
	case strings.HasSuffix(mediaType, "+json"), strings.HasSuffix(mediaType, "+xml"):
		return true
	}
	return false
}

type temporary interface{ Temporary() bool }

// Retryable reports whether redelivering the message may succeed.
// Unsupported and malformed messages never are. Store contention, timeouts
// and errors reporting Temporary() are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedPayload) ||
		errors.Is(err, registry.ErrUnknownChannel) ||
		errors.Is(err, registry.ErrUnknownEvent) ||
		errors.Is(err, registry.ErrMalformedEvent) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

// Reason maps a handling error to its rejection metric label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedPayload):
		return ReasonUnsupportedPayload
	case Retryable(err):
		return ReasonRetryable
	default:
		return ReasonPermanent
	}
}
