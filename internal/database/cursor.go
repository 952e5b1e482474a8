// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package database

import (
	"encoding/base64"
	"time"

	"github.com/goccy/go-json"
)

// Cursor marks a position in a (created_at DESC, id DESC) ordering. Listings
// return the cursor of the last row; passing it back resumes strictly after
// that row. The encoding is opaque to clients.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// Encode serializes the cursor to a URL-safe opaque token.
func (c Cursor) Encode() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque cursor token. A malformed or empty token
// yields (nil, false): listings treat that as "start from the beginning"
// rather than failing the request.
func DecodeCursor(token string) (*Cursor, bool) {
	if token == "" {
		return nil, false
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, false
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false
	}
	if c.CreatedAt.IsZero() || c.ID == "" {
		return nil, false
	}
	return &c, true
}
