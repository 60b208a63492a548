package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	IngestErrorBadInput         = "INGEST_BAD_INPUT"
	IngestErrorSourceNotFound   = "INGEST_SOURCE_NOT_FOUND"
	IngestErrorSignatureInvalid = "INGEST_SIGNATURE_INVALID"
	IngestErrorNoConsumer       = "INGEST_NO_CONSUMER"
	IngestErrorDispatchFailed   = "INGEST_DISPATCH_FAILED"
	IngestErrorStoreUnavailable = "INGEST_STORE_UNAVAILABLE"
	IngestErrorConflict         = "INGEST_CONFLICT"
	IngestErrorInternal         = "INGEST_INTERNAL_ERROR"
)

// MapError normalizes any error into the module's rich-error envelope so
// transport layers can derive an HTTP-equivalent response.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIngestErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "verification"):
		return newIngestError(err.Error(), goerrors.CategoryAuth, IngestErrorSignatureInvalid)
	case strings.Contains(msg, "source") && strings.Contains(msg, "not registered"):
		return newIngestError(err.Error(), goerrors.CategoryNotFound, IngestErrorSourceNotFound)
	case strings.Contains(msg, "no consumer registered"):
		return newIngestError(err.Error(), goerrors.CategoryOperation, IngestErrorNoConsumer)
	case strings.Contains(msg, "store"), strings.Contains(msg, "database"), strings.Contains(msg, "connection refused"):
		return newIngestError(err.Error(), goerrors.CategoryExternal, IngestErrorStoreUnavailable)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newIngestError(err.Error(), goerrors.CategoryBadInput, IngestErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIngestErrorEnvelope(mapped)
}

func newIngestError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIngestErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIngestErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = ingestHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIngestTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIngestTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return IngestErrorBadInput
	case goerrors.CategoryNotFound:
		return IngestErrorSourceNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return IngestErrorSignatureInvalid
	case goerrors.CategoryConflict:
		return IngestErrorConflict
	case goerrors.CategoryExternal:
		return IngestErrorStoreUnavailable
	case goerrors.CategoryOperation:
		return IngestErrorDispatchFailed
	default:
		return IngestErrorInternal
	}
}

func ingestHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
