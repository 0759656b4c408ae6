// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"net/url"
	"strings"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// ParseDataset extracts the "<org>/<name>" dataset id from a hosted
// dataset URL, an hf:// URL, or a bare id.
func ParseDataset(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", dataset.NotFound(input, "empty dataset id")
	}

	var segments []string
	switch {
	case strings.HasPrefix(trimmed, "hf://"):
		rest := strings.TrimPrefix(trimmed, "hf://")
		rest, ok := strings.CutPrefix(rest, "datasets/")
		if !ok {
			return "", dataset.Unsupported(input, "only hf://datasets/ URLs name a dataset")
		}
		segments = strings.Split(rest, "/")
		if len(segments) >= 2 {
			// hf://datasets/org/name@revision/path
			segments[1], _, _ = strings.Cut(segments[1], "@")
		}

	case strings.Contains(trimmed, "://"):
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", dataset.Unsupported(input, "unparseable URL: %v", err)
		}
		if !IsHubHost(parsed.Hostname()) {
			return "", dataset.Unsupported(input, "host %q is not a dataset hub", parsed.Hostname())
		}
		parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		for i, part := range parts {
			if part == "datasets" {
				segments = parts[i+1:]
				break
			}
		}
		if segments == nil {
			return "", dataset.Unsupported(input, "URL does not name a dataset")
		}

	default:
		segments = strings.Split(strings.Trim(trimmed, "/"), "/")
	}

	if len(segments) < 2 || !validSegment(segments[0]) || !validSegment(segments[1]) {
		return "", dataset.Unsupported(input, "expected a dataset id of the form org/name")
	}
	if len(segments) > 2 && !strings.Contains(trimmed, "://") {
		return "", dataset.Unsupported(input, "expected a dataset id of the form org/name")
	}
	return segments[0] + "/" + segments[1], nil
}

// IsHubHost reports whether host serves dataset pages.
func IsHubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "huggingface.co" || host == "www.huggingface.co" || host == "hf.co"
}

func validSegment(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
