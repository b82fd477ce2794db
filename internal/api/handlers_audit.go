// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/logging"
)

// auditFilter reads the shared filter parameters of /audit and /audit/export.
func auditFilter(r *http.Request, op string, defLimit, maxLimit int) (audit.Filter, error) {
	q := newQueryParams(op, r)
	f := audit.Filter{
		ActorID:      q.str("actor"),
		Action:       q.str("action"),
		ResourceType: q.str("resourceType"),
		ResourceID:   q.str("resourceId"),
		SessionID:    q.str("sessionId"),
		Success:      q.boolPtr("success"),
		FromTime:     q.timePtr("from"),
		ToTime:       q.timePtr("to"),
		Limit:        q.intIn("limit", defLimit, 1, maxLimit),
		Offset:       q.intIn("offset", 0, 0, 1_000_000),
	}
	if f.FromTime != nil && f.ToTime != nil && f.ToTime.Before(*f.FromTime) {
		q.fail("to", "to must not be before from")
	}
	return f, q.err()
}

func (rt *Router) auditEntries(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r, "api.auditEntries", 100, 1000)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	entries := rt.deps.Audit.Entries(r.Context(), f)
	NewResponseWriter(w, r).List(entries, len(entries))
}

func (rt *Router) auditStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, rt.deps.Audit.Stats(r.Context()))
}

// auditExport streams the filtered log as a download. The export itself is
// audited.
func (rt *Router) auditExport(w http.ResponseWriter, r *http.Request) {
	const op = "api.auditExport"
	formatName := r.URL.Query().Get("format")
	if formatName == "" {
		formatName = string(audit.FormatJSON)
	}
	format, ok := audit.ParseFormat(formatName)
	if !ok {
		e := apperr.New(apperr.KindValidationFailed, op, "invalid query parameters")
		e.Fields = map[string]string{"format": "format must be one of: json csv cef"}
		WriteError(w, r, e)
		return
	}
	f, err := auditFilter(r, op, 10_000, 100_000)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	data, contentType, err := rt.deps.Audit.Export(r.Context(), format, f)
	rt.deps.Audit.Record(r.Context(), actorOf(r), audit.ActionDataExport, audit.ResourceAuditLog, string(format),
		map[string]interface{}{"bytes": len(data)}, err)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	ext := string(format)
	if format == audit.FormatCEF {
		ext = "log"
	}
	filename := "audit-" + time.Now().UTC().Format("20060102T150405Z") + "." + ext
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("audit export write failed")
	}
}
