package utils

import (
	"github.com/skip2/go-qrcode"
)

// GenerateQRCode returns a PNG QR code of content, size pixels wide.
func GenerateQRCode(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}
