package vision

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"strings"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
)

// DecodeFrame decodes a base64 image, optionally wrapped in a data: URL, and
// checks that it is a JPEG or PNG.
func DecodeFrame(encoded string) ([]byte, image.Image, error) {
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.CodeDecode, "frame is not valid base64")
	}
	return decodeRaw(data)
}

func decodeRaw(data []byte) ([]byte, image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.CodeDecode, "frame is not a supported image")
	}
	return data, img, nil
}
