package export

import (
	"encoding/json"
	"io"
)

// JSONExporter exports debate reports to JSON format.
type JSONExporter struct{}

// Export writes the report as JSON.
func (e *JSONExporter) Export(report *Report, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return "json"
}
