package pairing

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

// WriteQRImage renders the token's QR payload as a PNG at path.
func WriteQRImage(token *ConnectionToken, path string, size int) error {
	if token == nil || token.QRCode == "" {
		return errors.New("token has no qr payload")
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.WriteFile(token.QRCode, qrcode.Medium, size, path)
}
