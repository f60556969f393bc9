// Package codec turns client-supplied audio into the canonical form handed
// to transcription, and encodes captured PCM as WAV.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"math"
	"strings"

	"github.com/go-audio/wav"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
)

// Format names the container of decoded audio.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatOgg  Format = "ogg"
	FormatWebM Format = "webm"
	FormatFLAC Format = "flac"
	FormatMP3  Format = "mp3"
)

// Audio is decoded client audio ready for a transcriber.
type Audio struct {
	Data   []byte
	Format Format
}

var magics = []struct {
	prefix []byte
	format Format
}{
	{[]byte("OggS"), FormatOgg},
	{[]byte{0x1A, 0x45, 0xDF, 0xA3}, FormatWebM},
	{[]byte("fLaC"), FormatFLAC},
	{[]byte("ID3"), FormatMP3},
}

// Decode unwraps base64 audio (optionally a data: URL) and checks that it is
// a container the transcriber accepts. WAV payloads are fully validated.
// Any failure is a DECODE error.
func Decode(encoded string) (Audio, error) {
	payload := strings.TrimSpace(encoded)
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i > 0 {
		payload = payload[i+len(";base64,"):]
	}
	if payload == "" {
		return Audio{}, apperrors.New(apperrors.CodeDecode, "empty audio payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Audio{}, apperrors.Wrap(err, apperrors.CodeDecode, "audio is not valid base64")
	}
	return Sniff(data)
}

// Sniff identifies raw audio bytes.
func Sniff(data []byte) (Audio, error) {
	if len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		if err := validateWAV(data); err != nil {
			return Audio{}, err
		}
		return Audio{Data: data, Format: FormatWAV}, nil
	}
	for _, m := range magics {
		if bytes.HasPrefix(data, m.prefix) {
			return Audio{Data: data, Format: m.format}, nil
		}
	}
	// Bare MPEG frame sync.
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return Audio{Data: data, Format: FormatMP3}, nil
	}
	return Audio{}, apperrors.New(apperrors.CodeDecode, "unrecognized audio container")
}

func validateWAV(data []byte) error {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return apperrors.New(apperrors.CodeDecode, "malformed wav header")
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return apperrors.Newf(apperrors.CodeDecode, "wav has %d channels at %d Hz", d.NumChans, d.SampleRate)
	}
	return nil
}

const wavHeaderSize = 44

// EncodeWAV encodes mono float32 samples in [-1, 1] as 16-bit PCM WAV.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataSize))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:], 16) // bits per sample
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataSize))

	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return buf
}

// EncodeBase64WAV is EncodeWAV followed by standard base64, the form clients
// send in transcribe commands.
func EncodeBase64WAV(samples []float32, sampleRate int) string {
	return base64.StdEncoding.EncodeToString(EncodeWAV(samples, sampleRate))
}
