package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/gocarina/gocsv"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVExporter renders csv-tagged structs into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render marshals a slice of csv-tagged structs. An empty slice still yields
// the header line.
func (e *CSVExporter) Render(rows interface{}) ([]byte, error) {
	out, err := gocsv.MarshalBytes(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal csv: %w", err)
	}
	return out, nil
}

// DatasetOf converts csv-tagged structs into a Dataset, keeping the column
// order of the struct tags.
func DatasetOf(rows interface{}) (Dataset, error) {
	raw, err := gocsv.MarshalBytes(rows)
	if err != nil {
		return Dataset{}, fmt.Errorf("marshal dataset: %w", err)
	}
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset: %w", err)
	}
	if len(records) == 0 {
		return Dataset{}, fmt.Errorf("dataset has no header")
	}
	data := Dataset{Headers: records[0], Rows: make([]map[string]string, 0, len(records)-1)}
	for _, record := range records[1:] {
		row := make(map[string]string, len(record))
		for i, header := range data.Headers {
			if i < len(record) {
				row[header] = record[i]
			}
		}
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}
