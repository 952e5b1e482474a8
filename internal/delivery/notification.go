// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// notification.go - Report-ready and report-shared email bodies

package delivery

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// Notification describes a finished report for its recipients.
type Notification struct {
	ReportName  string
	GeneratedAt time.Time
	DownloadURL string
	URLExpires  time.Time
	FileSize    int64
}

// Subject returns the default subject line when the schedule's delivery
// config does not override it.
func (n Notification) Subject() string {
	return fmt.Sprintf("Report ready: %s", n.ReportName)
}

var notificationTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
<h2>{{.ReportName}}</h2>
<p>Your scheduled report was generated on {{.GeneratedAt.Format "January 2, 2006 at 15:04 MST"}}.</p>
<p><a href="{{.DownloadURL}}">Download report</a> ({{.FileSizeHuman}})</p>
<p style="color: #666; font-size: 12px;">The download link expires on {{.URLExpires.Format "January 2, 2006 at 15:04 MST"}}.</p>
</body>
</html>
`))

type notificationView struct {
	Notification
	FileSizeHuman string
}

// RenderBody renders the notification email body.
func (n Notification) RenderBody() (string, error) {
	var buf bytes.Buffer
	view := notificationView{Notification: n, FileSizeHuman: humanSize(n.FileSize)}
	if err := notificationTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return buf.String(), nil
}

// ShareNotice describes an artifact forwarded to additional recipients
// by a user.
type ShareNotice struct {
	SharedBy    string
	Message     string
	DownloadURL string
	URLExpires  time.Time
	FileSize    int64
}

// Subject returns the subject line for a share email.
func (s ShareNotice) Subject() string {
	return fmt.Sprintf("%s shared a report with you", s.SharedBy)
}

var shareTemplate = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
<h2>A report was shared with you</h2>
<p>{{.SharedBy}} shared a report with you.</p>
{{if .Message}}<blockquote style="border-left: 3px solid #ccc; padding-left: 10px; color: #444;">{{.Message}}</blockquote>{{end}}
<p><a href="{{.DownloadURL}}">Download report</a> ({{.FileSizeHuman}})</p>
<p style="color: #666; font-size: 12px;">The download link expires on {{.URLExpires.Format "January 2, 2006 at 15:04 MST"}}.</p>
</body>
</html>
`))

type shareView struct {
	ShareNotice
	FileSizeHuman string
}

// RenderBody renders the share email body.
func (s ShareNotice) RenderBody() (string, error) {
	var buf bytes.Buffer
	view := shareView{ShareNotice: s, FileSizeHuman: humanSize(s.FileSize)}
	if err := shareTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render share notice: %w", err)
	}
	return buf.String(), nil
}

func humanSize(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
