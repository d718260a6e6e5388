package paylink

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
)

// DefaultQRWidth is the per-module pixel width used when the caller does
// not ask for a size.
const DefaultQRWidth = 8

// RenderQR encodes a link payload into a PNG image. The writer library is
// file-based, so the image goes through a temp file that is always removed.
func RenderQR(payload string, width int) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyHandle
	}
	if width <= 0 || width > 40 {
		width = DefaultQRWidth
	}

	qrc, err := qrcode.New(payload)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	name := filepath.Join(os.TempDir(), fmt.Sprintf("romana_qr_%d.png", time.Now().UnixNano()))
	w, err := standard.New(name,
		standard.WithQRWidth(uint8(width)),
		standard.WithBuiltinImageEncoder(standard.PNG_FORMAT),
	)
	if err != nil {
		return nil, fmt.Errorf("create qr writer: %w", err)
	}

	if err := qrc.Save(w); err != nil {
		_ = os.Remove(name)
		return nil, fmt.Errorf("save qr: %w", err)
	}

	data, err := os.ReadFile(name)
	_ = os.Remove(name)
	if err != nil {
		return nil, fmt.Errorf("read qr image: %w", err)
	}
	return data, nil
}
