package types

// Record is one already rendered observation. The byte size is computed once at construction.
type Record struct {
	content string
	size    int
}

// NewRecord wraps rendered content. Go strings are UTF-8 so the byte length is the encoded length.
func NewRecord(content string) Record {
	return Record{
		content: content,
		size:    len(content),
	}
}

func (r Record) Content() string {
	return r.content
}

func (r Record) Size() int {
	return r.size
}

// Batch is a single payload ready to be sent as an HTTP body.
type Batch struct {
	// Payload is header + comma joined records + footer.
	Payload string
	// RecordCount is the number of records joined into Payload.
	RecordCount int
	// Group is the group label the batch was packed with.
	Group string
}

func (b Batch) Size() int {
	return len(b.Payload)
}
