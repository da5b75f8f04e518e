// Package export turns a finished sweep into its outputs: a semicolon
// separated CSV table and PNG Bode charts.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bkoppe/bode/pkg/models"
)

// WriteError wraps a failed output write. The destination path is left
// untouched: exports are all-or-nothing.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("export: writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteCSV exports results as semicolon separated rows, one per measured
// frequency, preceded by a header. The file is written to a temporary name
// in the destination directory and atomically renamed into place, so a
// failure never leaves a partial file behind.
func WriteCSV(results []models.MeasurementResult, path string, withPhase bool) error {
	var b strings.Builder
	if withPhase {
		b.WriteString("frequency;gain_dB;phase_deg\n")
	} else {
		b.WriteString("frequency;gain_dB\n")
	}
	for _, res := range results {
		fmt.Fprintf(&b, "%g;%.4f", res.Frequency, res.GainDB)
		if withPhase {
			if res.PhaseDeg != nil {
				fmt.Fprintf(&b, ";%.4f", *res.PhaseDeg)
			} else {
				b.WriteString(";nan")
			}
		}
		b.WriteByte('\n')
	}
	return atomicWrite(path, []byte(b.String()))
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"."+uuid.New().String()[:8]+".*")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	cleanup := func(cause error) error {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: cause}
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
