package stream

import (
	"bufio"
	"fmt"
	"io"
)

const (
	// Boundary separates MJPEG parts.
	Boundary = "_--FRAME--"

	// ContentType is the response type of the MJPEG routes.
	ContentType = "multipart/x-mixed-replace;boundary=" + Boundary

	partMarker = "\r\n--" + Boundary + "\r\n"
	partHeader = "Content-Type: %s\r\nContent-Length: %d\r\n\r\n"
)

// writePart writes one multipart section: header, payload and the boundary
// that ends it, then flushes so the client sees the frame immediately.
func writePart(w *bufio.Writer, contentType string, data []byte) error {
	if _, err := fmt.Fprintf(w, partHeader, contentType, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := io.WriteString(w, partMarker); err != nil {
		return err
	}
	return w.Flush()
}

// writePreamble starts the multipart body.
func writePreamble(w *bufio.Writer) error {
	if _, err := io.WriteString(w, partMarker); err != nil {
		return err
	}
	return w.Flush()
}
