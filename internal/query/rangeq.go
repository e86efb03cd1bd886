package query

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// Ranges carries the bounds of a range query. Inclusive and exclusive
// bounds are mutually exclusive per side.
type Ranges struct {
	Gt  *json.Number `json:"gt,omitempty"`
	Gte *json.Number `json:"gte,omitempty"`
	Lt  *json.Number `json:"lt,omitempty"`
	Lte *json.Number `json:"lte,omitempty"`
}

// Range matches numeric fields against bounded intervals.
type Range struct {
	Range map[string]Ranges `json:"range"`
}

func (r Range) CreateQuery(s *schema.Schema) (bquery.Query, error) {
	if len(r.Range) != 1 {
		return nil, types.QueryError("range query expects exactly one field, got %d", len(r.Range))
	}
	for field, ranges := range r.Range {
		f, ok := s.Field(field)
		if !ok {
			return nil, types.UnknownField(field)
		}
		if !f.Numeric() {
			return nil, types.QueryError("range query on non-numeric field %s", field)
		}
		if ranges.Gt != nil && ranges.Gte != nil {
			return nil, types.QueryError("range query on %s sets both gt and gte", field)
		}
		if ranges.Lt != nil && ranges.Lte != nil {
			return nil, types.QueryError("range query on %s sets both lt and lte", field)
		}
		if ranges.Gt == nil && ranges.Gte == nil && ranges.Lt == nil && ranges.Lte == nil {
			return nil, types.QueryError("range query on %s has no bounds", field)
		}

		var (
			min, max       *float64
			minInc, maxInc bool
		)
		lower, lowerInc := ranges.Gte, true
		if ranges.Gt != nil {
			lower, lowerInc = ranges.Gt, false
		}
		upper, upperInc := ranges.Lte, true
		if ranges.Lt != nil {
			upper, upperInc = ranges.Lt, false
		}
		if lower != nil {
			v, err := coerceBound(f, *lower)
			if err != nil {
				return nil, err
			}
			min, minInc = &v, lowerInc
		}
		if upper != nil {
			v, err := coerceBound(f, *upper)
			if err != nil {
				return nil, err
			}
			max, maxInc = &v, upperInc
		}

		q := bleve.NewNumericRangeInclusiveQuery(min, max, &minInc, &maxInc)
		q.SetField(field)
		return q, nil
	}
	return nil, types.QueryError("query generation failed")
}

// coerceBound converts a bound to the field's declared numeric type,
// failing on overflow, then widens to the engine's float64 keyspace.
func coerceBound(f schema.Field, n json.Number) (float64, error) {
	switch f.Type {
	case schema.TypeI64:
		i, err := n.Int64()
		if err != nil {
			return 0, types.QueryError("range bound %s overflows i64 field %s", n, f.Name)
		}
		return float64(i), nil
	case schema.TypeU64:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, types.QueryError("range bound %s overflows u64 field %s", n, f.Name)
		}
		return float64(u), nil
	case schema.TypeF64:
		v, err := n.Float64()
		if err != nil || math.IsInf(v, 0) {
			return 0, types.QueryError("range bound %s overflows f64 field %s", n, f.Name)
		}
		return v, nil
	}
	return 0, types.QueryError("range query on non-numeric field %s", f.Name)
}
