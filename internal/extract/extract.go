package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"

	"letterlab-backend/internal/shared/storage/object"
)

const (
	mimePDF = "application/pdf"

	// TextSuffix names the cached plain-text copy stored next to a PDF.
	TextSuffix = ".txt"
)

// ErrUnsupported is returned for payloads that are not PDFs.
var ErrUnsupported = errors.New("unsupported document type")

// IsPDF sniffs the payload rather than trusting a client-supplied type.
func IsPDF(data []byte) bool {
	return http.DetectContentType(data) == mimePDF
}

// Text returns the plain text of the PDF stored at key. The first successful
// extraction is cached at key+TextSuffix and reused afterwards.
func Text(ctx context.Context, store object.ObjectStore, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if cached, err := readAll(ctx, store, key+TextSuffix); err == nil {
		return string(cached), nil
	}

	raw, err := readAll(ctx, store, key)
	if err != nil {
		return "", fmt.Errorf("extract text key=%s: %w", key, err)
	}
	text, err := FromBytes(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("extract text key=%s: %w", key, err)
	}
	if _, err := store.Put(ctx, key+TextSuffix, "text/plain; charset=utf-8", strings.NewReader(text)); err != nil {
		return "", fmt.Errorf("extract text key=%s: cache: %w", key, err)
	}
	return text, nil
}

// FromBytes extracts text from an in-memory PDF.
func FromBytes(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !IsPDF(data) {
		return "", ErrUnsupported
	}
	text, err := extractPDF(data)
	if err != nil {
		return "", err
	}
	return normalize(text), nil
}

func readAll(ctx context.Context, store object.ObjectStore, key string) ([]byte, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func extractPDF(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// normalize trims trailing spaces per line and collapses runs of blank lines.
func normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
