// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/validation"
)

// decode reads a JSON body into dst, writing a 400 on failure.
func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rt.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			NewResponseWriter(w, r).Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		NewResponseWriter(w, r).BadRequest("could not read request body")
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		NewResponseWriter(w, r).BadRequest("request body is required")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		NewResponseWriter(w, r).BadRequest("request body is not valid JSON")
		return false
	}
	return true
}

// validate runs struct validation, writing a 400 with field details on failure.
func validate(w http.ResponseWriter, r *http.Request, op string, v interface{}) bool {
	if err := validation.Check(op, v); err != nil {
		WriteError(w, r, err)
		return false
	}
	return true
}

// queryParams parses optional query values, collecting the first error.
type queryParams struct {
	op     string
	values map[string][]string
	fields map[string]string
}

func newQueryParams(op string, r *http.Request) *queryParams {
	return &queryParams{op: op, values: r.URL.Query()}
}

func (q *queryParams) str(name string) string {
	if v := q.values[name]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func (q *queryParams) fail(name, msg string) {
	if q.fields == nil {
		q.fields = make(map[string]string)
	}
	q.fields[name] = msg
}

// intIn returns def when absent; values outside [lo, hi] are errors.
func (q *queryParams) intIn(name string, def, lo, hi int) int {
	s := q.str(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		q.fail(name, name+" must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return def
	}
	return n
}

func (q *queryParams) boolPtr(name string) *bool {
	s := q.str(name)
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		q.fail(name, name+" must be true or false")
		return nil
	}
	return &b
}

func (q *queryParams) timePtr(name string) *time.Time {
	s := q.str(name)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		q.fail(name, name+" must be an RFC 3339 timestamp")
		return nil
	}
	return &t
}

// err returns a ValidationFailed error when any parameter was bad.
func (q *queryParams) err() error {
	if len(q.fields) == 0 {
		return nil
	}
	e := apperr.New(apperr.KindValidationFailed, q.op, "invalid query parameters")
	e.Fields = q.fields
	return e
}
