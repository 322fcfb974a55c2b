package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// Iranian mobile numbers (09xxxxxxxxx) or E.164.
var phonePattern = regexp.MustCompile(`^(09\d{9}|\+[1-9]\d{7,14})$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// requestError describes a body that could not be decoded or validated.
type requestError struct {
	fields map[string]string
	err    error
}

func (e *requestError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.err)
}

// normalizer is implemented by request bodies that trim their fields.
type normalizer interface {
	normalize()
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &requestError{err: err}
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &requestError{err: err}
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return &requestError{fields: fields, err: err}
	}
	return nil
}

func respondInvalidRequest(w http.ResponseWriter, err error) {
	body := map[string]any{"error": "invalid_request"}
	var re *requestError
	if errors.As(err, &re) && len(re.fields) > 0 {
		body["fields"] = re.fields
	}
	respondJSON(w, http.StatusBadRequest, body)
}
