// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// formats.go - Tabular output formats
//
// CSV uses encoding/csv. XLSX is written directly as the minimal OOXML
// package: one worksheet with inline strings, enough for spreadsheet
// applications to open the file.

package render

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"strconv"
)

// RenderCSV serializes the report data as CSV: header row, data rows,
// and a totals row when present.
func RenderCSV(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(data.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Columns))
		for i, col := range data.Columns {
			record[i] = cellString(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	if len(data.Totals) > 0 {
		record := make([]string, len(data.Columns))
		for i, col := range data.Columns {
			record[i] = cellString(data.Totals[col])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv totals: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderXLSX serializes the report data as a single-sheet XLSX workbook.
func RenderXLSX(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parts := map[string]string{
		"[Content_Types].xml": xlsxContentTypes,
		"_rels/.rels":         xlsxRootRels,
		"xl/workbook.xml":     xlsxWorkbook,
		"xl/_rels/workbook.xml.rels": xlsxWorkbookRels,
		"xl/worksheets/sheet1.xml":   buildSheet(data),
	}
	// Zip entry order is fixed so identical data yields identical bytes.
	for _, name := range []string{
		"[Content_Types].xml", "_rels/.rels", "xl/workbook.xml",
		"xl/_rels/workbook.xml.rels", "xl/worksheets/sheet1.xml",
	} {
		f, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create xlsx part %s: %w", name, err)
		}
		if _, err := f.Write([]byte(parts[name])); err != nil {
			return nil, fmt.Errorf("write xlsx part %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func buildSheet(data *ReportData) string {
	var rows bytes.Buffer

	writeRow := func(values []string) {
		rows.WriteString("<row>")
		for _, v := range values {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				fmt.Fprintf(&rows, `<c t="n"><v>%g</v></c>`, n)
				continue
			}
			var escaped bytes.Buffer
			_ = xml.EscapeText(&escaped, []byte(v))
			fmt.Fprintf(&rows, `<c t="inlineStr"><is><t>%s</t></is></c>`, escaped.String())
		}
		rows.WriteString("</row>")
	}

	writeRow(data.Columns)
	for _, row := range data.Rows {
		record := make([]string, len(data.Columns))
		for i, col := range data.Columns {
			record[i] = cellString(row[col])
		}
		writeRow(record)
	}
	if len(data.Totals) > 0 {
		record := make([]string, len(data.Columns))
		for i, col := range data.Columns {
			record[i] = cellString(data.Totals[col])
		}
		writeRow(record)
	}

	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">` +
		`<sheetData>` + rows.String() + `</sheetData></worksheet>`
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

const xlsxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>` +
	`<Override PartName="/xl/worksheets/sheet1.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>` +
	`</Types>`

const xlsxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>` +
	`</Relationships>`

const xlsxWorkbook = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">` +
	`<sheets><sheet name="Report" sheetId="1" r:id="rId1"/></sheets></workbook>`

const xlsxWorkbookRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>` +
	`</Relationships>`
