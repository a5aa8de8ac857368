package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"SignalGate/pkg/util"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("symbol", stringRule(validSymbol))
	_ = v.RegisterValidation("duration", stringRule(func(s string) bool {
		d, err := util.ParseDuration(s)
		return err == nil && d > 0
	}))
	return v
}

// RegisterValidation adds a string validation tag. Call it from init, before
// any request is served.
func RegisterValidation(tag string, ok func(string) bool) error {
	return validate.RegisterValidation(tag, stringRule(ok))
}

func stringRule(ok func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.String && ok(fl.Field().String())
	}
}

// validSymbol accepts exchange tickers such as BTCUSDT in either case.
func validSymbol(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// BindAndValidate binds the request, applies `default` tags and runs
// `validate` tags. Failures come back as a 400 *AppError: ERR_VALIDATION with
// one Details entry per field, or ERR_BAD_REQUEST when the body did not bind.
func BindAndValidate(c echo.Context, req interface{}) *AppError {
	if err := c.Bind(req); err != nil {
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg = fmt.Sprint(he.Message)
		}
		return BadRequestErrorf("malformed request: %s", msg).WithError(err)
	}
	if err := defaults.Set(req); err != nil {
		return InternalErrorf("request defaults").WithError(err)
	}
	err := validate.StructCtx(c.Request().Context(), req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return InternalErrorf("request validation").WithError(err)
	}

	appErr := NewAppError("ERR_VALIDATION", "", "request validation failed", http.StatusBadRequest)
	for _, fe := range fieldErrs {
		appErr.Details = append(appErr.Details, ValidationError{
			Code:    "ERR_" + strings.ToUpper(fe.Tag()),
			Field:   fe.Field(),
			Message: fieldMessage(fe),
			Params:  fieldParams(fe),
		})
	}
	if len(appErr.Details) > 0 {
		appErr.Field = appErr.Details[0].Field
	}
	return appErr.WithError(err)
}

func fieldMessage(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "symbol":
		return fmt.Sprintf("%s: %q is not a symbol", field, fe.Value())
	case "duration":
		return fmt.Sprintf("%s: %q is not a duration such as 30m, 12h, 1d or 1w", field, fe.Value())
	case "timeframe":
		return fmt.Sprintf("%s: %q is not a supported timeframe", field, fe.Value())
	case "min", "max":
		bound := map[string]string{"min": "at least", "max": "at most"}[fe.Tag()]
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("%s must be %s %s characters", field, bound, param)
		case reflect.Slice:
			return fmt.Sprintf("%s must hold %s %s items", field, bound, param)
		}
		return fmt.Sprintf("%s must be %s %s", field, bound, param)
	case "gte":
		return fmt.Sprintf("%s must be %s or more", field, param)
	case "lte":
		return fmt.Sprintf("%s must be %s or less", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

func fieldParams(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		return map[string]interface{}{"max": fe.Param()}
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	case "symbol", "duration", "timeframe":
		return map[string]interface{}{"value": fe.Value()}
	}
	return nil
}
