// Package artifacts writes dated file artifacts for audit and human review.
// Artifacts are outputs only; the operational log store is the source of
// truth for scheduling and is never derived from these files.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// Writer writes stage artifacts under a predictable dated path convention:
// <root>/<stage>/<name>_<YYYY-MM-DD>.<ext>
type Writer struct {
	root string
}

// NewWriter creates an artifact writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{root: dir}
}

// Path returns the artifact path for a stage, name, date, and extension.
func (w *Writer) Path(stage, name string, date time.Time, ext string) string {
	file := fmt.Sprintf("%s_%s.%s", name, date.Format("2006-01-02"), ext)
	return filepath.Join(w.root, stage, file)
}

// WriteJSON writes v as indented JSON and returns the artifact path.
func (w *Writer) WriteJSON(stage, name string, date time.Time, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s artifact: %w", name, err)
	}
	return w.write(stage, name, date, "json", append(data, '\n'))
}

// WriteJSONL writes one JSON object per line and returns the artifact path.
func (w *Writer) WriteJSONL(stage, name string, date time.Time, rows []any) (string, error) {
	var buf []byte
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return "", fmt.Errorf("marshal %s artifact row: %w", name, err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	return w.write(stage, name, date, "jsonl", buf)
}

// WriteMarkdown writes a human-readable report and returns the artifact path.
func (w *Writer) WriteMarkdown(stage, name string, date time.Time, text string) (string, error) {
	return w.write(stage, name, date, "md", []byte(text))
}

func (w *Writer) write(stage, name string, date time.Time, ext string, data []byte) (string, error) {
	path := w.Path(stage, name, date, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	return path, nil
}
