package images

import (
	"bytes"
	"strings"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEGIF  = "image/gif"
	MIMEWebP = "image/webp"
	MIMEAVIF = "image/avif"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// DetectMIME identifies an image from its leading bytes. The declared
// content type and then the URL extension are used only when the bytes are
// too short or unrecognised; the final default is JPEG.
func DetectMIME(data []byte, url, contentType string) string {
	if len(data) >= 12 {
		switch {
		case bytes.HasPrefix(data, jpegMagic):
			return MIMEJPEG
		case bytes.HasPrefix(data, pngMagic):
			return MIMEPNG
		case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
			return MIMEGIF
		case IsWebP(data):
			return MIMEWebP
		case isAVIF(data):
			return MIMEAVIF
		}
	}
	return mimeFromHints(url, contentType)
}

// IsWebP reports whether data carries the RIFF/WEBP container signature.
func IsWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

func isAVIF(data []byte) bool {
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brands := data[8:min(20, len(data))]
	return bytes.Contains(brands, []byte("avif")) || bytes.Contains(brands, []byte("avis"))
}

func mimeFromHints(url, contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "avif"):
		return MIMEAVIF
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return MIMEJPEG
	case strings.Contains(ct, "png"):
		return MIMEPNG
	case strings.Contains(ct, "webp"):
		return MIMEWebP
	case strings.Contains(ct, "gif"):
		return MIMEGIF
	}

	u := strings.ToLower(url)
	switch {
	case strings.HasSuffix(u, ".jpg"), strings.HasSuffix(u, ".jpeg"):
		return MIMEJPEG
	case strings.HasSuffix(u, ".png"):
		return MIMEPNG
	case strings.HasSuffix(u, ".webp"):
		return MIMEWebP
	case strings.HasSuffix(u, ".gif"):
		return MIMEGIF
	}
	return MIMEJPEG
}
