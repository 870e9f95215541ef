package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeBadInput            = "DATASTORE_BAD_INPUT"
	ErrorCodeUnsupportedOperator = "DATASTORE_UNSUPPORTED_OPERATOR"
	ErrorCodeDuplicateKey        = "DATASTORE_DUPLICATE_KEY"
	ErrorCodeTokenIssuedTooOften = "AUTH_TOKEN_ISSUED_TOO_OFTEN"
	ErrorCodeUnauthorized        = "AUTH_UNAUTHORIZED"
	ErrorCodeInternal            = "DATASTORE_INTERNAL_ERROR"
)

// NewUnsupportedOperator reports a filter mapping that used an operator
// suffix the query layer does not recognize. It names both the field and the
// offending operator so the caller can fix the mapping.
func NewUnsupportedOperator(field, operator string) *goerrors.Error {
	return newLayerError(
		"field "+field+" does not support operator "+operator,
		goerrors.CategoryBadInput,
		ErrorCodeUnsupportedOperator,
	)
}

// NewDuplicateKey translates a storage uniqueness violation into the domain
// error kind. constraint carries the violated constraint name when the
// driver exposes it, otherwise it is empty.
func NewDuplicateKey(constraint string, cause error) *goerrors.Error {
	message := "duplicate key violates a uniqueness constraint"
	if strings.TrimSpace(constraint) != "" {
		message = "duplicate key violates constraint " + constraint
	}
	err := newLayerError(message, goerrors.CategoryConflict, ErrorCodeDuplicateKey)
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryConflict, message).
			WithTextCode(ErrorCodeDuplicateKey).
			WithCode(http.StatusConflict)
	}
	return err
}

// NewTokenIssuedTooOften is the issuance-race specialization of duplicate
// key: a concurrent issuer already persisted the row for the same
// (grant_type, client_id, user_id) triple. Callers should re-read rather
// than retry the create.
func NewTokenIssuedTooOften(cause error) *goerrors.Error {
	message := "a token for this grant, client and user was just issued"
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryConflict, message).
			WithTextCode(ErrorCodeTokenIssuedTooOften).
			WithCode(http.StatusConflict)
	}
	return newLayerError(message, goerrors.CategoryConflict, ErrorCodeTokenIssuedTooOften)
}

// NewUnauthorized is the error route guards raise when an authorization
// context reports invalid. The authorizer itself never returns it.
func NewUnauthorized() *goerrors.Error {
	return newLayerError("authorization required", goerrors.CategoryAuth, ErrorCodeUnauthorized)
}

func NewBadInput(message string) *goerrors.Error {
	return newLayerError(message, goerrors.CategoryBadInput, ErrorCodeBadInput)
}

// MapStorageError normalizes an arbitrary storage failure into the layer's
// error envelope. Duplicate-key translation happens before this mapper in
// the gateway; anything reaching here is an internal storage fault.
func MapStorageError(err error) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEnvelope(richErr)
	}
	return ensureEnvelope(
		goerrors.Wrap(err, goerrors.CategoryInternal, "storage operation failed").
			WithTextCode(ErrorCodeInternal),
	)
}

func IsUnsupportedOperator(err error) bool {
	return hasTextCode(err, ErrorCodeUnsupportedOperator)
}

func IsDuplicateKey(err error) bool {
	return hasTextCode(err, ErrorCodeDuplicateKey) || hasTextCode(err, ErrorCodeTokenIssuedTooOften)
}

func IsTokenIssuedTooOften(err error) bool {
	return hasTextCode(err, ErrorCodeTokenIssuedTooOften)
}

func IsUnauthorized(err error) bool {
	return hasTextCode(err, ErrorCodeUnauthorized)
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func newLayerError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureEnvelope(
		goerrors.New(message, category).WithTextCode(textCode),
	)
}

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = layerHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = ErrorCodeInternal
	}
	return err
}

func layerHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return http.StatusUnauthorized
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
