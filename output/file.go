package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jakopako/tagcheck/config"
	"github.com/jakopako/tagcheck/types"
)

// FileWriter writes a report file containing all page results and the
// run summary as json.
type FileWriter struct {
	writerConfig *config.WriterConfig
	logger       *slog.Logger
	results      []types.PageResult
}

// NewFileWriter returns a new FileWriter
func NewFileWriter(wc *config.WriterConfig) *FileWriter {
	return &FileWriter{
		writerConfig: wc,
		logger:       slog.With(slog.String("writer", FILE_WRITER_TYPE)),
	}
}

func (w *FileWriter) Write(results <-chan types.PageResult) {
	for result := range results {
		w.results = append(w.results, result)
	}
}

func (w *FileWriter) WriteSummary(summary types.RunSummary) {
	report := struct {
		Summary types.RunSummary   `json:"summary"`
		Pages   []types.PageResult `json:"pages"`
	}{
		Summary: summary,
		Pages:   w.results,
	}

	f, err := os.Create(w.writerConfig.FilePath)
	if err != nil {
		w.logger.Error(fmt.Sprintf("error while trying to open file: %v", err))
		return
	}
	defer f.Close()

	// json.MarshalIndent would escape html characters, same reasoning
	// as in the stdout writer
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(report); err != nil {
		w.logger.Error(fmt.Sprintf("error while encoding report: %v", err))
		return
	}
	var indentBuffer bytes.Buffer
	if err := json.Indent(&indentBuffer, buffer.Bytes(), "", "  "); err != nil {
		w.logger.Error(fmt.Sprintf("error while indenting json: %v", err))
		return
	}
	if _, err := f.Write(indentBuffer.Bytes()); err != nil {
		w.logger.Error(fmt.Sprintf("error while writing json to file: %v", err))
		return
	}
	w.logger.Info(fmt.Sprintf("wrote %d page results to file %s", len(w.results), w.writerConfig.FilePath))
}

func (w *FileWriter) Close() error { return nil }
