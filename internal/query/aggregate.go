package query

import (
	"math"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// SumAgg requests a sum over one numeric field of the matched documents.
type SumAgg struct {
	Field string `json:"field"`
}

// Metrics is the aggregation block of a search request.
type Metrics struct {
	Sum *SumAgg `json:"sum,omitempty"`
}

// AggResult carries the aggregation outcome. Overflow is set when the
// sum saturated at the field type's maximum.
type AggResult struct {
	Sum      float64 `json:"sum"`
	Overflow bool    `json:"overflow"`
}

// Validate checks the aggregation against the schema before execution.
func (m *Metrics) Validate(s *schema.Schema) (schema.Field, error) {
	if m.Sum == nil {
		return schema.Field{}, types.QueryError("aggregation requests no metric")
	}
	f, ok := s.Field(m.Sum.Field)
	if !ok {
		return schema.Field{}, types.UnknownField(m.Sum.Field)
	}
	if !f.Numeric() {
		return schema.Field{}, types.QueryError("sum aggregation on non-numeric field %s", m.Sum.Field)
	}
	return f, nil
}

// SumValues accumulates stored values for the field. Missing values
// contribute zero; sums past the declared type's maximum saturate and
// raise the overflow flag.
func SumValues(f schema.Field, values []float64) *AggResult {
	var sum float64
	for _, v := range values {
		sum += v
	}

	var limit float64
	switch f.Type {
	case schema.TypeI64:
		limit = math.MaxInt64
	case schema.TypeU64:
		limit = math.MaxUint64
	default:
		limit = math.MaxFloat64
	}
	if sum > limit {
		return &AggResult{Sum: limit, Overflow: true}
	}
	return &AggResult{Sum: sum}
}
