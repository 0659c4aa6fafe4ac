package report

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/go-pdf/fpdf"
)

// DefaultFilename is offered to the browser for nutrition plan downloads.
const DefaultFilename = "nutrition_plan_report.pdf"

// ErrRender is wrapped by every failure to build the document, as opposed
// to failures writing it out.
var ErrRender = errors.New("failed to render pdf")

//go:embed fonts/DejaVuSansCondensed.ttf
var dejaVuSans []byte

// Exporter renders plain text into a paginated single-font PDF.
type Exporter struct {
	FontFamily string
	FontSize   float64
	LineHeight float64 // mm
	Compress   bool
}

// NewExporter returns an Exporter using the embedded DejaVu Sans Condensed
// at 12pt with 10mm lines.
func NewExporter() *Exporter {
	return &Exporter{
		FontFamily: "DejaVu",
		FontSize:   12,
		LineHeight: 10,
		Compress:   true,
	}
}

// Render builds the document in memory.
func (e *Exporter) Render(text string) ([]byte, error) {
	data, _, err := e.render(text)
	return data, err
}

func (e *Exporter) render(text string) ([]byte, int, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(e.Compress)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddUTF8FontFromBytes(e.FontFamily, "", dejaVuSans)
	pdf.AddPage()
	pdf.SetFont(e.FontFamily, "", e.FontSize)
	pdf.MultiCell(0, e.LineHeight, basicPlane(text), "", "L", false)

	pages := pdf.PageCount()
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrRender, err)
	}
	return buf.Bytes(), pages, nil
}

// basicPlane replaces runes outside the Basic Multilingual Plane, which
// fpdf's UTF-16 text encoding cannot represent, with U+FFFD.
func basicPlane(text string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return unicode.ReplacementChar
		}
		return r
	}, text)
}

// Write renders the document and copies it to w. Nothing reaches w when
// rendering fails.
func (e *Exporter) Write(w io.Writer, text string) error {
	data, err := e.Render(text)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

// Export writes the document to destination. The file appears complete or
// not at all: the PDF is written to a temporary sibling and renamed.
func (e *Exporter) Export(text, destination string) (err error) {
	if destination == "" {
		return errors.New("export destination is empty")
	}

	data, err := e.Render(text)
	if err != nil {
		return err
	}

	dir := filepath.Dir(destination)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, destination); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
