// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// cursor always produces the same token. Paging responses compare
// tokens byte for byte.
var encMode cbor.EncMode

// decMode rejects duplicate map keys and caps nesting: tokens arrive
// from callers and are not trusted.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:  16,
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// tokenVersion prefixes every token so the encoding can change
// without misreading tokens issued by an older build.
const tokenVersion byte = 1

// ErrBadToken is returned by DecodeToken for input that is not a token
// produced by EncodeToken.
var ErrBadToken = errors.New("invalid continuation token")

// EncodeToken serializes v into an opaque URL-safe string: a version
// byte followed by the CBOR encoding, base64url without padding.
func EncodeToken(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding token: %w", err)
	}
	buffer := make([]byte, 0, len(data)+1)
	buffer = append(buffer, tokenVersion)
	buffer = append(buffer, data...)
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// DecodeToken reverses EncodeToken into v.
func DecodeToken(token string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if len(raw) < 2 || raw[0] != tokenVersion {
		return ErrBadToken
	}
	if err := Unmarshal(raw[1:], v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	return nil
}
