// Package collect gathers raw documents from external sources: a directory
// of files and a crawled website.
package collect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/commonrag/commonrag"
)

// Directory yields one document per readable file in a directory. PDFs are
// reduced to plain text; everything else is read as-is. Parsing fidelity
// beyond text extraction is out of scope.
type Directory struct {
	dir string
	log *zap.Logger
}

func NewDirectory(dir string) *Directory {
	log := zap.L().With(
		zap.String("source", "directory"),
		zap.String("dir", dir),
	)

	return &Directory{dir: dir, log: log}
}

func (d *Directory) Collect(ctx context.Context) ([]commonrag.Document, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	var docs []commonrag.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(d.dir, entry.Name())

		var text string
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf":
			text, err = extractPDF(path)
		default:
			var data []byte
			data, err = os.ReadFile(path)
			text = string(data)
		}

		if err != nil {
			d.log.Warn("skipping unreadable file",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}

		if strings.TrimSpace(text) == "" {
			continue
		}

		docs = append(docs, commonrag.Document{
			Text: text,
			Metadata: map[string]string{
				commonrag.MetaSource: path,
			},
		})
	}

	return docs, nil
}

func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}

	if buf.Len() == 0 {
		return "", fmt.Errorf("no text extracted from %s", path)
	}

	return buf.String(), nil
}
