// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package audit

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func sampleEntries() []Entry {
	ts := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	return []Entry{
		{
			ID:           "e1",
			Timestamp:    ts,
			SessionID:    "s1",
			ActorID:      "u1",
			Action:       ActionLogin,
			ResourceType: ResourceAccount,
			ResourceID:   "u1",
			Success:      true,
			Severity:     SeverityMedium,
		},
		{
			ID:           "e2",
			Timestamp:    ts.Add(time.Second),
			SessionID:    "s1",
			Action:       ActionNotificationSend,
			ResourceType: ResourceNotification,
			ResourceID:   "n1",
			Details:      map[string]interface{}{"type": "alert", "channels": 2},
			Success:      false,
			ErrorMessage: "smtp, down",
			Severity:     SeverityMedium,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in     string
		want   Format
		wantOK bool
	}{
		{"json", FormatJSON, true},
		{" CSV ", FormatCSV, true},
		{"Cef", FormatCEF, true},
		{"xml", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestJSONExporter(t *testing.T) {
	exporter := &JSONExporter{}

	data, err := exporter.Export(sampleEntries())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var decoded []Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 2 || decoded[1].ErrorMessage != "smtp, down" {
		t.Errorf("unexpected decoded entries %+v", decoded)
	}
	if exporter.ContentType() != "application/json" {
		t.Errorf("ContentType() = %q", exporter.ContentType())
	}
}

func TestJSONExporter_EmptyEntries(t *testing.T) {
	data, err := (&JSONExporter{}).Export(nil)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("expected [], got %q", string(data))
	}
}

func TestCSVExporter(t *testing.T) {
	data, err := (&CSVExporter{}).Export(sampleEntries())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		t.Errorf("header = %v", rows[0])
	}

	second := rows[2]
	if second[0] != "e2" || second[7] != "false" || second[8] != "smtp, down" {
		t.Errorf("unexpected row %v", second)
	}
	if second[10] != `{"channels":2,"type":"alert"}` {
		t.Errorf("details column = %q", second[10])
	}
	if rows[1][10] != "" {
		t.Errorf("empty details should be an empty column, got %q", rows[1][10])
	}
}

func TestCEFExporter(t *testing.T) {
	data, err := NewCEFExporter().Export(sampleEntries())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 CEF lines, got %d", len(lines))
	}

	first := lines[0]
	for _, want := range []string{
		"CEF:0|Beacon|NotificationAudit|1.0|auth.login|auth.login account|5|",
		"suid=u1",
		"outcome=success",
		"externalId=e1",
		"rt=" + "1775125800000",
	} {
		if !strings.Contains(first, want) {
			t.Errorf("expected %q in %s", want, first)
		}
	}

	second := lines[1]
	for _, want := range []string{"outcome=failure", "reason=smtp, down", "msg=channels:2,type:alert"} {
		if !strings.Contains(second, want) {
			t.Errorf("expected %q in %s", want, second)
		}
	}
	if strings.Contains(second, "suid=") {
		t.Errorf("entry without actor should not carry suid: %s", second)
	}
}

func TestCEFExporter_EmptyEntries(t *testing.T) {
	data, err := NewCEFExporter().Export(nil)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty output, got %q", string(data))
	}
}

func TestCEFExporter_SpecialCharacterEscaping(t *testing.T) {
	exporter := NewCEFExporter()

	tests := []struct {
		name       string
		input      string
		shouldFind string
	}{
		{"pipe in header", "test|pipe", "test\\|pipe"},
		{"equals in extension", "key=value", "suid=key\\=value"},
		{"backslash", "path\\file", "path\\\\file"},
		{"newline", "line1\nline2", "line1 line2"},
		{"carriage return", "text\rwith\rCR", "textwithCR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := []Entry{{
				ID:           "escape",
				Timestamp:    time.Now(),
				ActorID:      tt.input,
				Action:       tt.input,
				ResourceType: ResourceAccount,
				Success:      true,
			}}
			data, err := exporter.Export(entries)
			if err != nil {
				t.Fatalf("export failed: %v", err)
			}
			if !strings.Contains(string(data), tt.shouldFind) {
				t.Errorf("expected to find %q in CEF output, got: %s", tt.shouldFind, string(data))
			}
		})
	}
}

func TestCEFSeverity(t *testing.T) {
	tests := []struct {
		severity Severity
		want     int
	}{
		{SeverityLow, 3},
		{SeverityMedium, 5},
		{SeverityHigh, 8},
		{SeverityCritical, 10},
		{"", 0},
	}
	for _, tt := range tests {
		if got := cefSeverity(tt.severity); got != tt.want {
			t.Errorf("cefSeverity(%q) = %d, want %d", tt.severity, got, tt.want)
		}
	}
}

func TestExporterFor(t *testing.T) {
	if ExporterFor(FormatCSV).ContentType() != "text/csv" {
		t.Error("csv exporter has wrong content type")
	}
	if ExporterFor(Format("pdf")) != nil {
		t.Error("unknown format should have no exporter")
	}
}
