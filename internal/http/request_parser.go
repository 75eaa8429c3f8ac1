// This file holds request decoding and query parameter parsing.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"stairs/internal/core"
)

// MaxBodyBytes bounds inbound JSON bodies.
const MaxBodyBytes = 16 << 10

// DecodeJSONBody decodes exactly one JSON value into dst. Unknown fields
// and trailing data are rejected.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", MaxBodyBytes)
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// ParseDayParam reads the optional "day" query parameter. Empty means
// all-time; "today" means today; otherwise YYYY-MM-DD or DD.MM.
func ParseDayParam(query url.Values, today core.DateKey) (core.DateKey, error) {
	v := strings.TrimSpace(query.Get("day"))
	switch strings.ToLower(v) {
	case "":
		return "", nil
	case "today":
		return today, nil
	}
	return core.ParseDateKey(v, today.Time())
}

// ParseDaysParam reads the optional "days" chart window; zero means the
// configured default. Out of range values are clamped later.
func ParseDaysParam(query url.Values) (int, error) {
	v := strings.TrimSpace(query.Get("days"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("days must be a positive integer, got %q", v)
	}
	return n, nil
}
