package sketch

import (
	"image/png"
	"io"
)

// EncodePNG writes the current surface as PNG.
func (l *Layer) EncodePNG(w io.Writer) error {
	return png.Encode(w, l.surface)
}
