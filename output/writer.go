// Package output provides the interface and configuration for writers
package output

import (
	"fmt"

	"github.com/jakopako/tagcheck/config"
	"github.com/jakopako/tagcheck/types"
)

// Writer defines the interface for all writers that are responsible
// for persisting the per-page results and the run summary to a
// specific output.
type Writer interface {
	Write(results <-chan types.PageResult)
	WriteSummary(summary types.RunSummary)
	Close() error
}

const (
	STDOUT_WRITER_TYPE = "stdout"
	FILE_WRITER_TYPE   = "file"
	SQLITE_WRITER_TYPE = "sqlite"
)

// NewWriter builds the writer configured in the given writer config.
func NewWriter(wc *config.WriterConfig) (Writer, error) {
	switch wc.Type {
	case STDOUT_WRITER_TYPE, "":
		return NewStdoutWriter(wc), nil
	case FILE_WRITER_TYPE:
		return NewFileWriter(wc), nil
	case SQLITE_WRITER_TYPE:
		return NewSQLiteWriter(wc)
	default:
		return nil, fmt.Errorf("writer of type %s not implemented", wc.Type)
	}
}
