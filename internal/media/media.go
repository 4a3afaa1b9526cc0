// Package media inspects local audio files: availability, a content
// checksum and the decoded duration.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// Info describes a probed file. A missing file is reported as unavailable
// with no checksum and no duration.
type Info struct {
	Available  bool
	Checksum   string
	DurationMS *int64
}

// Probe hashes the file at path and decodes its duration. A file that does
// not exist is not an error. Duration decoding is best effort: unknown
// formats and decode failures leave DurationMS nil.
func Probe(path string) (Info, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the user's own library
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	sum, err := Checksum(f)
	if err != nil {
		return Info{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	info := Info{Available: true, Checksum: sum}
	if d, ok := Duration(path); ok {
		ms := d.Milliseconds()
		info.DurationMS = &ms
	}
	return info, nil
}

// Checksum returns the hex SHA-256 of everything read from r.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Duration decodes the audio at path and reports its playing time. The
// format is chosen by extension.
func Duration(path string) (time.Duration, bool) {
	var (
		d   time.Duration
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		d, err = wavDuration(path)
	case ".mp3":
		d, err = mp3Duration(path)
	case ".flac":
		d, err = flacDuration(path)
	default:
		return 0, false
	}
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path) //nolint:gosec // G304: see Probe
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	return dec.Duration()
}

// mp3Duration decodes to 16-bit stereo PCM, so every sample frame is four
// bytes of decoded output.
func mp3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path) //nolint:gosec // G304: see Probe
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, err
	}
	rate := dec.SampleRate()
	if rate <= 0 || dec.Length() <= 0 {
		return 0, errors.New("mp3 stream has no samples")
	}
	frames := dec.Length() / 4
	return samplesToDuration(uint64(frames), uint64(rate)), nil //nolint:gosec // G115: checked positive above
}

// flacDuration trusts the stream info sample count and falls back to
// summing frame block sizes when the encoder left it unset.
func flacDuration(path string) (time.Duration, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close() //nolint:errcheck

	rate := uint64(stream.Info.SampleRate)
	if rate == 0 {
		return 0, errors.New("flac stream has no sample rate")
	}
	samples := stream.Info.NSamples
	if samples == 0 {
		for {
			frame, err := stream.ParseNext()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return 0, err
			}
			samples += uint64(frame.BlockSize)
		}
	}
	return samplesToDuration(samples, rate), nil
}

func samplesToDuration(samples, rate uint64) time.Duration {
	ms := samples * 1000 / rate
	return time.Duration(ms) * time.Millisecond //nolint:gosec // G115: realistic track lengths fit
}
