// Package report persists review reports and renders them as text.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	reviewerrors "librarian/internal/errors"
	"librarian/internal/scheduler"
)

const (
	// FileName is the name of the full report inside the report directory.
	FileName = "review-report.json"

	// RepoDir is the sub-directory holding per-repository reports.
	RepoDir = "repos"

	compressedExt = ".zst"
)

// Writer stores reports under a directory.
type Writer struct {
	dir      string
	compress bool
}

// NewWriter creates a writer for dir. When compress is set every file is
// zstd-compressed and gets a .zst suffix.
func NewWriter(dir string, compress bool) *Writer {
	return &Writer{dir: dir, compress: compress}
}

// Dir returns the report directory.
func (w *Writer) Dir() string {
	return w.dir
}

// ReportPath returns where Write stores the full report.
func (w *Writer) ReportPath() string {
	return w.path(FileName)
}

// RepoReportPath returns where WriteRepo stores the report of repo.
func (w *Writer) RepoReportPath(repo string) string {
	return w.path(filepath.Join(RepoDir, repo+".json"))
}

func (w *Writer) path(name string) string {
	p := filepath.Join(w.dir, name)
	if w.compress {
		p += compressedExt
	}
	return p
}

// Write stores the full report and returns its path.
func (w *Writer) Write(rep *scheduler.Report) (string, error) {
	p := w.ReportPath()
	if err := w.writeJSON(p, rep); err != nil {
		return "", err
	}
	return p, nil
}

// WriteRepo stores a per-repository report. Its signature matches
// scheduler.RepoHandler.
func (w *Writer) WriteRepo(_ context.Context, rep *scheduler.RepoReport) error {
	return w.writeJSON(w.RepoReportPath(rep.Repo), rep)
}

func (w *Writer) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return reviewerrors.New(reviewerrors.ReportWriteFailed, "failed to encode report", err)
	}
	if w.compress {
		data, err = compress(data)
		if err != nil {
			return reviewerrors.New(reviewerrors.ReportWriteFailed, "failed to compress report", err)
		}
	}
	if err := writeAtomic(path, data); err != nil {
		return reviewerrors.New(reviewerrors.ReportWriteFailed, "failed to write "+path, err)
	}
	return nil
}

// writeAtomic replaces path through a temp file in the same directory so
// readers never see a partial report.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a full report written by Write.
func Load(path string) (*scheduler.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	if strings.HasSuffix(path, compressedExt) {
		data, err = decompress(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress report %s: %w", path, err)
		}
	}

	var rep scheduler.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &rep, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
