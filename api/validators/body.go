package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

// maxBodyBytes caps request bodies. The largest payload is a stop reorder.
const maxBodyBytes = 1 << 20

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	// Every decimal field is a quantity, weight or volume, so both rules also
	// enforce the quantity ceiling.
	decimalRule := func(accept func(decimal.Decimal) bool) validator.Func {
		return func(fl validator.FieldLevel) bool {
			value, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
			return err == nil && types.WithinQuantityLimit(value) && accept(value)
		}
	}
	rules := map[string]validator.Func{
		"decimal_gt0":  decimalRule(decimal.Decimal.IsPositive),
		"decimal_gte0": decimalRule(func(decimal.Decimal) bool { return true }),
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s validation: %v", tag, err))
		}
	}
	return v
}()

// fixedMessages covers tags whose message does not depend on the param.
var fixedMessages = map[string]string{
	"required":     "is required",
	"uuid":         "must be a valid uuid",
	"decimal_gt0":  "must be a positive decimal no greater than " + types.MaxQuantity.String(),
	"decimal_gte0": "must be a non-negative decimal no greater than " + types.MaxQuantity.String(),
}

// paramMessages are prefixes completed with the tag's param.
var paramMessages = map[string]string{
	"min":   "must be at least ",
	"max":   "must be at most ",
	"oneof": "must be one of ",
}

// DecodeJSONBody decodes a single JSON object into dest, rejecting unknown
// fields, then runs struct validation.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
			WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) *pkgerrors.Error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func describe(fe validator.FieldError) string {
	if msg, ok := fixedMessages[fe.Tag()]; ok {
		return msg
	}
	if prefix, ok := paramMessages[fe.Tag()]; ok {
		if fe.Tag() == "oneof" {
			return prefix + "[" + fe.Param() + "]"
		}
		return prefix + fe.Param()
	}
	return "is invalid"
}
