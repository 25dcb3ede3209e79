package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jakopako/tagcheck/config"
	"github.com/jakopako/tagcheck/types"
)

// StdoutWriter represents a writer that writes to stdout
type StdoutWriter struct {
	logger *slog.Logger
}

// NewStdoutWriter returns a new StdoutWriter
func NewStdoutWriter(wc *config.WriterConfig) *StdoutWriter {
	return &StdoutWriter{
		logger: slog.With(slog.String("writer", STDOUT_WRITER_TYPE)),
	}
}

func (w *StdoutWriter) Write(results <-chan types.PageResult) {
	for result := range results {
		// We cannot use json.MarshalIndent because it automatically
		// replaces certain html characters with the corresponding
		// Unicode replacement rune, see
		// https://stackoverflow.com/questions/28595664/how-to-stop-json-marshal-from-escaping-and
		buffer := &bytes.Buffer{}
		encoder := json.NewEncoder(buffer)
		encoder.SetEscapeHTML(false)
		if err := encoder.Encode(result); err != nil {
			w.logger.Error(fmt.Sprintf("error while writing result for page %s: %v", result.PageID, err))
			continue
		}

		var indentBuffer bytes.Buffer
		if err := json.Indent(&indentBuffer, buffer.Bytes(), "", "  "); err != nil {
			w.logger.Error(fmt.Sprintf("error while writing result for page %s: %v", result.PageID, err))
			continue
		}
		fmt.Print(indentBuffer.String())
	}
}

func (w *StdoutWriter) WriteSummary(summary types.RunSummary) {
	summaryJson, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		w.logger.Error(fmt.Sprintf("error while marshalling summary json: %v", err))
		return
	}
	w.logger.Info(fmt.Sprintf("printing summary for run '%s'", summary.RunID))
	fmt.Println(string(summaryJson))
}

func (w *StdoutWriter) Close() error { return nil }
