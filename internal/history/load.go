package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	reviewerrors "librarian/internal/errors"
)

// Snapshot is the outcome of loading a history source. Present is false
// when the source does not exist, which is different from a corrupt source
// (reported as an error).
type Snapshot struct {
	Present bool     `json:"present"`
	Source  string   `json:"source,omitempty"`
	Records []Record `json:"-"`
}

// Stats builds statistics from the snapshot's records.
func (s Snapshot) Stats() Stats {
	return Build(s.Records)
}

// priorReport is the subset of a review report needed to rebuild history.
type priorReport struct {
	Results []Record `json:"results"`
}

// Load reads a prior review report. Files ending in .zst are decompressed
// first. A missing file yields an absent snapshot and no error.
func Load(path string) (Snapshot, error) {
	if path == "" {
		return Snapshot{}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{Source: path}, nil
	}
	if err != nil {
		return Snapshot{}, reviewerrors.New(reviewerrors.HistoryCorrupt, "failed to read history "+path, err)
	}

	if strings.HasSuffix(path, ".zst") {
		data, err = decompress(data)
		if err != nil {
			return Snapshot{}, reviewerrors.New(reviewerrors.HistoryCorrupt, "failed to decompress history "+path, err)
		}
	}

	records, err := Decode(data)
	if err != nil {
		return Snapshot{}, reviewerrors.New(reviewerrors.HistoryCorrupt, "failed to parse history "+path, err)
	}

	return Snapshot{Present: true, Source: path, Records: records}, nil
}

// Decode parses report JSON of the shape {"results": [...]}.
func Decode(data []byte) ([]Record, error) {
	var report priorReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	if report.Results == nil {
		return nil, errors.New("report has no results array")
	}
	return report.Results, nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

// Merge concatenates the records of several snapshots.
func Merge(snapshots ...Snapshot) Snapshot {
	merged := Snapshot{}
	var sources []string
	for _, s := range snapshots {
		if !s.Present {
			continue
		}
		merged.Present = true
		merged.Records = append(merged.Records, s.Records...)
		sources = append(sources, s.Source)
	}
	merged.Source = strings.Join(sources, ",")
	return merged
}
