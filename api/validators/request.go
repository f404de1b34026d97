package validators

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

func invalid(field, msg string, extra ...any) *pkgerrors.Error {
	details := map[string]any{"field": field}
	for i := 0; i+1 < len(extra); i += 2 {
		details[extra[i].(string)] = extra[i+1]
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// ParseUUIDParam reads a chi URL parameter as a UUID.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		return uuid.Nil, invalid(name, "invalid path parameter")
	}
	return id, nil
}

// ParseQueryUUID requires key to be present and a UUID.
func ParseQueryUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return uuid.Nil, invalid(key, "query parameter is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalid(key, "query parameter must be a uuid")
	}
	return id, nil
}

// ParseQueryDecimal requires a positive decimal query value.
func ParseQueryDecimal(r *http.Request, key string) (decimal.Decimal, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return decimal.Zero, invalid(key, "query parameter is required")
	}
	value, err := decimal.NewFromString(raw)
	if err != nil || !value.IsPositive() || !types.WithinQuantityLimit(value) {
		return decimal.Zero, invalid(key, "query parameter must be a positive decimal", "max", types.MaxQuantity.String())
	}
	return value, nil
}

// ParseQueryInt returns fallback when key is absent and rejects values
// outside [lo, hi].
func ParseQueryInt(r *http.Request, key string, fallback, lo, hi int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, invalid(key, "query parameter must be numeric")
	case value < lo || value > hi:
		return 0, invalid(key, "query parameter out of range", "min", lo, "max", hi)
	}
	return value, nil
}

// SanitizeString trims input and cuts it to at most maxLen bytes without
// splitting a rune. maxLen <= 0 means no limit.
func SanitizeString(input string, maxLen int) string {
	s := strings.TrimSpace(input)
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	s = s[:maxLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return strings.TrimSpace(s)
}

// MustDecimal parses a value already accepted by the decimal_* validation tags.
func MustDecimal(raw string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return value
}
