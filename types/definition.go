package types

// MetricDefinition registers a custom metric with the ingest backend before series are sent for it.
// ID is carried in the request path, the rest is the JSON body.
type MetricDefinition struct {
	ID          string   `json:"-"`
	DisplayName string   `json:"displayName"`
	Unit        string   `json:"unit,omitempty"`
	Dimensions  []string `json:"dimensions,omitempty"`
	Types       []string `json:"types"`
}
