package types

import (
	"encoding/binary"
)

// Kind is the exposition type of a family.
type Kind uint8

const (
	Untyped Kind = iota
	Counter
	Gauge
	Summary
	Histogram
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Summary:
		return "summary"
	case Histogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Tag is a single key/value dimension.
type Tag struct {
	Key   string
	Value string
}

// Sample is one observed value. TagKeys and TagValues are parallel slices and a
// Sample must not be modified after it has been handed to a collector.
type Sample struct {
	Name      string
	TagKeys   []string
	TagValues []string
	Value     float64
}

// NewSample builds a sample from tags, keeping their order.
func NewSample(name string, value float64, tags ...Tag) Sample {
	s := Sample{
		Name:      name,
		TagKeys:   make([]string, len(tags)),
		TagValues: make([]string, len(tags)),
		Value:     value,
	}
	for i, t := range tags {
		s.TagKeys[i] = t.Key
		s.TagValues[i] = t.Value
	}
	return s
}

// Identity returns the (name, ordered tag keys) shape of the sample.
func (s Sample) Identity() Identity {
	return Identity{Name: s.Name, TagKeys: s.TagKeys}
}

// Family is a named group of samples of the same Kind.
type Family struct {
	Kind    Kind
	Name    string
	Help    string
	Samples []Sample
}

// NewFamily is a small helper for the common single kind, many samples case.
func NewFamily(kind Kind, name string, samples ...Sample) Family {
	return Family{
		Kind:    kind,
		Name:    name,
		Samples: samples,
	}
}

// appendPart writes the length of s ahead of s so a sequence of parts decodes one way only, whatever bytes the
// parts hold.
func appendPart(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// Identity is the shape of a sample: the metric name and the tag keys in the order they are rendered.
// Two identities are equal only when the tag keys match by value and position, [a b] and [b a] are different
// identities.
type Identity struct {
	Name    string
	TagKeys []string
}

// Key returns a comparable representation of the identity suitable for map keys.
func (id Identity) Key() string {
	n := len(id.Name) + binary.MaxVarintLen64
	for _, k := range id.TagKeys {
		n += len(k) + binary.MaxVarintLen64
	}
	buf := make([]byte, 0, n)
	buf = appendPart(buf, id.Name)
	for _, k := range id.TagKeys {
		buf = appendPart(buf, k)
	}
	return string(buf)
}

func (id Identity) Equals(other Identity) bool {
	if id.Name != other.Name || len(id.TagKeys) != len(other.TagKeys) {
		return false
	}
	for i := range id.TagKeys {
		if id.TagKeys[i] != other.TagKeys[i] {
			return false
		}
	}
	return true
}

// ValuesKey returns a comparable representation of an ordered tag value sequence.
func ValuesKey(values []string) string {
	if len(values) == 0 {
		return ""
	}
	n := 0
	for _, v := range values {
		n += len(v) + binary.MaxVarintLen64
	}
	buf := make([]byte, 0, n)
	for _, v := range values {
		buf = appendPart(buf, v)
	}
	return string(buf)
}
