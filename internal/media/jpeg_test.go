package media

import (
	"os"
	"path/filepath"
	"testing"
)

// buildMinimalJPEG assembles a SOI, an APP0 segment, an SOF0 segment encoding
// width/height, and an SOS marker — enough for ProbeJPEGDimensions to find
// the frame size without a real encoder.
func buildMinimalJPEG(width, height int) []byte {
	var b []byte
	b = append(b, 0xFF, 0xD8) // SOI

	app0 := []byte{0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00}
	b = append(b, app0...)

	sof0 := []byte{
		0xFF, 0xC0,
		0x00, 0x11, // length = 17
		0x08,                             // precision
		byte(height >> 8), byte(height),  // height
		byte(width >> 8), byte(width),    // width
		0x03,                             // number of components
		0x01, 0x22, 0x00,
		0x02, 0x11, 0x01,
		0x03, 0x11, 0x01,
	}
	b = append(b, sof0...)

	b = append(b, 0xFF, 0xDA, 0x00, 0x0C) // start of scan header
	b = append(b, make([]byte, 10)...)
	return b
}

func writeTempJPEG(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write temp jpeg: %v", err)
	}
	return path
}

func TestProbeJPEGDimensions(t *testing.T) {
	path := writeTempJPEG(t, buildMinimalJPEG(1920, 1080))
	w, h, err := ProbeJPEGDimensions(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 1920 || h != 1080 {
		t.Errorf("got %dx%d, want 1920x1080", w, h)
	}
}

func TestProbeJPEGDimensionsInvalidHeader(t *testing.T) {
	path := writeTempJPEG(t, []byte("not a jpeg"))
	_, _, err := ProbeJPEGDimensions(path)
	if err != ErrInvalidJPEG {
		t.Errorf("got %v, want ErrInvalidJPEG", err)
	}
}

func TestProbeJPEGDimensionsMissingFile(t *testing.T) {
	_, _, err := ProbeJPEGDimensions(filepath.Join(t.TempDir(), "missing.jpg"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestProbeJPEGDimensionsNoSOF(t *testing.T) {
	data := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	path := writeTempJPEG(t, data)
	_, _, err := ProbeJPEGDimensions(path)
	if err != ErrJPEGDimensionsNotFound {
		t.Errorf("got %v, want ErrJPEGDimensionsNotFound", err)
	}
}
