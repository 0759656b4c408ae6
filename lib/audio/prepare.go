// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// playable lists containers handed to the player unchanged.
var playable = map[string]bool{
	"wav": true, "mp3": true, "flac": true, "ogg": true,
	"opus": true, "m4a": true, "aac": true,
}

// Playable reports whether ext names a container a player opens as is.
func Playable(ext string) bool {
	return playable[strings.ToLower(ext)]
}

// IsAudio reports whether Prepare accepts ext.
func IsAudio(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == "sph" || playable[ext]
}

// Prepare writes audio bytes to a new file in dir. SPHERE input is
// decoded to WAV; playable containers are copied. The caller owns the
// returned file.
func Prepare(ctx context.Context, data []byte, ext, dir string) (dataset.PreparedFile, error) {
	if err := ctx.Err(); err != nil {
		return dataset.PreparedFile{}, err
	}
	ext = strings.ToLower(ext)
	if IsSphere(data) || ext == "sph" {
		header, samples, err := DecodeSphere(data)
		if err != nil {
			return dataset.PreparedFile{}, err
		}
		return writeTemp(dir, "wav", func(file *os.File) error {
			return WriteWAV(file, samples, header.Channels, header.SampleRate)
		})
	}
	if !Playable(ext) {
		return dataset.PreparedFile{}, dataset.Unsupported("", "%q is not a playable audio format", ext)
	}
	return writeTemp(dir, ext, func(file *os.File) error {
		_, err := file.Write(data)
		return err
	})
}

func writeTemp(dir, ext string, write func(*os.File) error) (dataset.PreparedFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dataset.PreparedFile{}, fmt.Errorf("creating %s: %w", dir, err)
	}
	file, err := os.CreateTemp(dir, "audio-*."+ext)
	if err != nil {
		return dataset.PreparedFile{}, fmt.Errorf("creating audio file: %w", err)
	}
	path := file.Name()
	if err := write(file); err != nil {
		file.Close()
		os.Remove(path)
		return dataset.PreparedFile{}, fmt.Errorf("writing %s: %w", path, err)
	}
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		os.Remove(path)
		return dataset.PreparedFile{}, fmt.Errorf("sizing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return dataset.PreparedFile{}, fmt.Errorf("closing %s: %w", path, err)
	}
	return dataset.PreparedFile{Path: path, Size: size, Ext: ext}, nil
}

// WriteWAV encodes interleaved 16-bit samples as a PCM WAV file.
func WriteWAV(w io.WriteSeeker, samples []int16, channels, sampleRate int) error {
	if channels < 1 {
		return fmt.Errorf("invalid channel count %d", channels)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	encoder := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	data := make([]int, len(samples))
	for i, sample := range samples {
		data[i] = int(sample)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buffer); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	return encoder.Close()
}
