// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"net/url"
	"strings"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// ParseRecordID extracts the numeric record id from a record page URL
// (".../records/<id>", ".../record/<id>", ".../api/records/<id>") or a
// bare id.
func ParseRecordID(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if isDigits(trimmed) {
		return trimmed, nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return "", dataset.Unsupported(input, "not a record URL or id")
	}
	if !IsRecordHost(parsed.Hostname()) {
		return "", dataset.Unsupported(input, "host %q is not a record host", parsed.Hostname())
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if (segments[i] == "records" || segments[i] == "record") && isDigits(segments[i+1]) {
			return segments[i+1], nil
		}
	}
	return "", dataset.NotFound(input, "URL does not name a record")
}

// IsRecordHost reports whether host is zenodo.org or one of its
// subdomains.
func IsRecordHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "zenodo.org" || strings.HasSuffix(host, ".zenodo.org")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
