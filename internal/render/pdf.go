// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// pdf.go - HTML to PDF conversion
//
// Production deployments shell out to an HTML-to-PDF converter
// (weasyprint by default) reading HTML on stdin and writing PDF to
// stdout. The stub renderer keeps development and tests converter-free.

package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// PDFRenderer converts rendered HTML into PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html []byte) ([]byte, error)
}

// CommandRenderer runs an external converter process per document.
type CommandRenderer struct {
	command string
	timeout time.Duration
}

// NewCommandRenderer creates a renderer shelling out to command. The
// command must accept "- -" to read stdin and write stdout.
func NewCommandRenderer(command string, timeout time.Duration) *CommandRenderer {
	if command == "" {
		command = "weasyprint"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CommandRenderer{command: command, timeout: timeout}
}

// RenderPDF converts html via the external command.
func (r *CommandRenderer) RenderPDF(ctx context.Context, html []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command, "-", "-")
	cmd.Stdin = bytes.NewReader(html)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", r.command, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s produced no output", r.command)
	}
	return stdout.Bytes(), nil
}

// StubRenderer produces a minimal one-page PDF that records the HTML
// length. Used in tests and converter-free deployments.
type StubRenderer struct{}

// RenderPDF returns a syntactically valid empty PDF document.
func (StubRenderer) RenderPDF(_ context.Context, html []byte) ([]byte, error) {
	content := fmt.Sprintf("%%PDF-1.4\n%% reportus stub, source %d bytes\n"+
		"1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n"+
		"2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n"+
		"3 0 obj<</Type/Page/Parent 2 0 R/MediaBox[0 0 612 792]>>endobj\n"+
		"trailer<</Root 1 0 R>>\n%%%%EOF\n", len(html))
	return []byte(content), nil
}
