package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	dayLayout    = "2006-01-02"
	maxBodyBytes = 64 << 10
)

// newValidator reports field names by their json tag.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a single JSON object into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("Malformed JSON body.")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return badRequest("Request body must contain a single JSON object.")
	}
	if err := s.validate.Struct(dst); err != nil {
		return unprocessable(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request."
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted YYYY-MM-DD.", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid.", fe.Field())
	}
}

// parseDay parses a YYYY-MM-DD value as a UTC calendar day.
func parseDay(v string) (time.Time, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, unprocessable("Dates must be formatted YYYY-MM-DD.")
	}
	return t, nil
}

// queryYear reads the year query parameter, defaulting to the current year.
func queryYear(r *http.Request, now time.Time) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("year"))
	if v == "" {
		return now.Year(), nil
	}
	y, err := strconv.Atoi(v)
	if err != nil || y < 1 || y > 9999 {
		return 0, badRequest("year must be a four digit number.")
	}
	return y, nil
}

// sanitizeInput removes control characters except tab and newlines, and trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
