// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Format names an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatCEF  Format = "cef"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, true
	case FormatCSV:
		return FormatCSV, true
	case FormatCEF:
		return FormatCEF, true
	}
	return "", false
}

// Exporter serializes entries.
type Exporter interface {
	Export(entries []Entry) ([]byte, error)
	ContentType() string
}

// ExporterFor returns the exporter for f, or nil for unknown formats.
func ExporterFor(f Format) Exporter {
	switch f {
	case FormatJSON:
		return &JSONExporter{}
	case FormatCSV:
		return &CSVExporter{}
	case FormatCEF:
		return NewCEFExporter()
	}
	return nil
}

// JSONExporter exports entries as an indented JSON array.
type JSONExporter struct{}

// Export implements Exporter.
func (e *JSONExporter) Export(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// ContentType implements Exporter.
func (e *JSONExporter) ContentType() string { return "application/json" }

// csvHeader is the column order of CSV exports.
var csvHeader = []string{
	"id", "timestamp", "session_id", "actor_id", "action", "resource_type",
	"resource_id", "success", "error_message", "severity", "details",
}

// CSVExporter exports entries as one row per entry. Details are a JSON object
// in the last column with keys sorted.
type CSVExporter struct{}

// Export implements Exporter.
func (e *CSVExporter) Export(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i := range entries {
		entry := &entries[i]
		details := ""
		if len(entry.Details) > 0 {
			b, err := json.Marshal(entry.Details) // map keys are emitted sorted
			if err != nil {
				return nil, fmt.Errorf("encode details of %s: %w", entry.ID, err)
			}
			details = string(b)
		}
		row := []string{
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339Nano),
			entry.SessionID,
			entry.ActorID,
			entry.Action,
			entry.ResourceType,
			entry.ResourceID,
			strconv.FormatBool(entry.Success),
			entry.ErrorMessage,
			string(entry.Severity),
			details,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", entry.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ContentType implements Exporter.
func (e *CSVExporter) ContentType() string { return "text/csv" }

// CEFExporter exports entries in Common Event Format (for SIEM integration).
type CEFExporter struct {
	DeviceVendor  string
	DeviceProduct string
	DeviceVersion string
}

// NewCEFExporter creates a new CEF exporter with defaults.
func NewCEFExporter() *CEFExporter {
	return &CEFExporter{
		DeviceVendor:  "Beacon",
		DeviceProduct: "NotificationAudit",
		DeviceVersion: "1.0",
	}
}

// Export exports entries to CEF format.
// CEF Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(entries []Entry) ([]byte, error) {
	lines := make([]string, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		lines = append(lines, fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
			e.escapeHeader(e.DeviceVendor),
			e.escapeHeader(e.DeviceProduct),
			e.escapeHeader(e.DeviceVersion),
			e.escapeHeader(entry.Action),
			e.escapeHeader(entry.Action+" "+entry.ResourceType),
			cefSeverity(entry.Severity),
			e.buildExtension(entry),
		))
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// ContentType implements Exporter.
func (e *CEFExporter) ContentType() string { return "text/plain" }

// cefSeverity maps a severity to the CEF 0-10 scale.
func cefSeverity(severity Severity) int {
	switch severity {
	case SeverityLow:
		return 3
	case SeverityMedium:
		return 5
	case SeverityHigh:
		return 8
	case SeverityCritical:
		return 10
	default:
		return 0
	}
}

func (e *CEFExporter) buildExtension(entry *Entry) string {
	parts := []string{fmt.Sprintf("rt=%d", entry.Timestamp.UnixMilli())}

	if entry.ActorID != "" {
		parts = append(parts, "suid="+e.escapeExt(entry.ActorID))
	}
	parts = append(parts,
		"act="+e.escapeExt(entry.Action),
		"cs1Label=resourceType cs1="+e.escapeExt(entry.ResourceType),
		"cs2Label=resourceId cs2="+e.escapeExt(entry.ResourceID),
		"cs3Label=sessionId cs3="+e.escapeExt(entry.SessionID),
		"externalId="+e.escapeExt(entry.ID),
	)
	if entry.Success {
		parts = append(parts, "outcome=success")
	} else {
		parts = append(parts, "outcome=failure")
		if entry.ErrorMessage != "" {
			parts = append(parts, "reason="+e.escapeExt(entry.ErrorMessage))
		}
	}
	if len(entry.Details) > 0 {
		keys := make([]string, 0, len(entry.Details))
		for k := range entry.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s:%v", k, entry.Details[k]))
		}
		parts = append(parts, "msg="+e.escapeExt(strings.Join(kv, ",")))
	}
	return strings.Join(parts, " ")
}

// escapeHeader escapes pipes and backslashes in CEF header fields.
func (e *CEFExporter) escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

// escapeExt escapes equals signs and backslashes in CEF extension values.
func (e *CEFExporter) escapeExt(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
