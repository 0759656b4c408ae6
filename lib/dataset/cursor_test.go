// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"errors"
	"testing"
)

func TestCursorTokenRoundtrip(t *testing.T) {
	cursor := ScanCursor{
		SourceID:   "src",
		Generation: 3,
		ShardID:    "src/shard-000.tar",
		Offset:     5120,
		Item:       7,
		Pending: &PendingSample{
			Key:     "train/0007",
			Members: []PendingMember{{Path: "train/0007.jpg", Field: "jpg", Size: 300, DataOffset: 4608}},
		},
	}

	token, err := cursor.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	parsed, err := ParseCursorToken(token, "src", 3, "src/shard-000.tar")
	if err != nil {
		t.Fatalf("ParseCursorToken: %v", err)
	}
	if parsed.Offset != 5120 || parsed.Item != 7 {
		t.Errorf("position = (%d, %d), want (5120, 7)", parsed.Offset, parsed.Item)
	}
	if parsed.Pending == nil || parsed.Pending.Key != "train/0007" || len(parsed.Pending.Members) != 1 {
		t.Fatalf("pending = %+v", parsed.Pending)
	}
	if parsed.Pending.Members[0] != cursor.Pending.Members[0] {
		t.Errorf("member = %+v, want %+v", parsed.Pending.Members[0], cursor.Pending.Members[0])
	}

	again, err := parsed.Token()
	if err != nil {
		t.Fatalf("Token (second): %v", err)
	}
	if again != token {
		t.Errorf("token changed across roundtrip")
	}
}

func TestCursorRejectedOutsideItsScope(t *testing.T) {
	token, err := StartCursor("a", 2, "data.tar").Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	tests := []struct {
		name       string
		token      string
		sourceID   string
		generation uint64
		shardID    string
	}{
		{"other shard", token, "a", 2, "other.tar"},
		{"other source", token, "b", 2, "data.tar"},
		{"reloaded source", token, "a", 3, "data.tar"},
		{"garbage", "garbage!", "a", 2, "data.tar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCursorToken(tt.token, tt.sourceID, tt.generation, tt.shardID)
			if got := KindOf(err); got != KindInvalidCursor {
				t.Errorf("KindOf(%v) = %v, want %v", err, got, KindInvalidCursor)
			}
			if !errors.Is(err, ErrInvalidCursor) {
				t.Errorf("errors.Is(%v, ErrInvalidCursor) = false", err)
			}
		})
	}

	if _, err := ParseCursorToken(token, "a", 2, "data.tar"); err != nil {
		t.Errorf("ParseCursorToken(own scope): %v", err)
	}
}

func TestCursorCloneIsDeep(t *testing.T) {
	original := ScanCursor{ShardID: "s", Pending: &PendingSample{Key: "k", Members: []PendingMember{{Path: "k.a"}}}}
	clone := original.Clone()
	clone.Pending.Members[0].Path = "changed"
	clone.Pending.Key = "other"
	if original.Pending.Members[0].Path != "k.a" || original.Pending.Key != "k" {
		t.Errorf("Clone shares pending state with original: %+v", original.Pending)
	}
}
