// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audio turns field bytes into files a media player can open.
//
// Containers players already understand (wav, mp3, flac, ogg, opus,
// m4a, aac) are written out unchanged. NIST SPHERE files are decoded
// to 16-bit PCM and rewritten as WAV: linear PCM, G.711 µ-law and
// A-law, and Shorten-compressed payloads ([DecodeShorten]) are
// supported. Anything else is reported as unsupported.
package audio
