package domain

// RawItem is one unit fetched by a connector, before processing.
// A non-nil Err marks an item that could not be fetched; the pipeline
// records it and moves on.
type RawItem struct {
	// NaturalKey is the stable key of the item within its Source.
	NaturalKey string

	// ContentType is the MIME type hint (e.g., "application/pdf").
	ContentType string

	// Content is the raw bytes.
	Content []byte

	// Metadata contains connector-specific key-value pairs.
	Metadata map[string]any

	// Err is set for per-item failures.
	Err error
}

// Failed reports whether the item is an error marker.
func (r *RawItem) Failed() bool {
	return r.Err != nil
}

// Extraction is the output of a Processor.
type Extraction struct {
	// Text is the full plain text to be chunked.
	Text string

	// Title is the detected title, if any.
	Title string

	PageCount   int
	RecordCount int

	// Metadata contains processor-specific key-value pairs.
	Metadata map[string]any
}
