// Package query describes a page request and the cost model shared by the
// admission controller and the fetch stream.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Defaults of the reference deployment.
const (
	DefaultPageSize      = 10
	DefaultCapacity      = 500
	DefaultLeakPerSecond = 4
)

// URL query parameters.
const (
	ParamFields   = "fields"
	ParamPage     = "page"
	ParamPageSize = "page_size"
)

// Fields lists the record schema in document order.
var Fields = []string{
	"geo_point_2d",
	"geo_shape",
	"name",
	"etichetta",
	"notetesto",
	"numeroantico",
	"numeromoderno",
	"link1",
	"link2",
	"link3",
	"piani",
	"arcate",
	"architravate",
	"architravate_con_colonne_di_legno",
	"archivolti",
	"modiglioni",
	"mensoloni_architravati",
	"stalla_e",
	"fienile_i",
	"rimessa_e",
	"scuderia_e",
	"attivita_commerciali_produttive_1",
	"attivita_commerciali_produttive_2",
	"attivita_commerciali_produttive_3",
	"attivita_commerciali_produttive_4",
	"attivita_commerciali_produttive_5",
}

// TotalFields is the number of fields in a full record.
var TotalFields = len(Fields)

// ErrInvalidQuery is wrapped by every Parse failure.
var ErrInvalidQuery = errors.New("invalid query")

// Query selects one page of records and the fields to project.
type Query struct {
	// Fields to return; empty means all fields.
	Fields []string

	// Page is zero-based.
	Page int

	// PageSize of zero means DefaultPageSize.
	PageSize uint16
}

// EffectivePageSize returns PageSize, or DefaultPageSize when unset.
func (q Query) EffectivePageSize() uint16 {
	if q.PageSize == 0 {
		return DefaultPageSize
	}
	return q.PageSize
}

// Normalize returns a copy with sorted, de-duplicated fields and an explicit page size.
func (q Query) Normalize() Query {
	fields := slices.Clone(q.Fields)
	slices.Sort(fields)
	fields = slices.Compact(fields)
	if len(fields) == 0 {
		fields = nil
	}

	return Query{
		Fields:   fields,
		Page:     q.Page,
		PageSize: q.EffectivePageSize(),
	}
}

// Next returns the query for the following page.
func (q Query) Next() Query {
	next := q
	next.Fields = slices.Clone(q.Fields)
	next.Page++
	return next
}

// Encode renders the query as URL parameters. Empty fields are omitted.
func (q Query) Encode() url.Values {
	v := url.Values{}
	n := q.Normalize()
	if len(n.Fields) > 0 {
		v.Set(ParamFields, strings.Join(n.Fields, ","))
	}
	v.Set(ParamPage, strconv.Itoa(n.Page))
	v.Set(ParamPageSize, strconv.FormatUint(uint64(n.PageSize), 10))
	return v
}

// Parse reads a query from URL parameters and normalizes it.
// Unknown fields, negative pages and a zero page size are rejected.
func Parse(v url.Values) (Query, error) {
	var q Query

	if raw := v.Get(ParamFields); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if !IsField(f) {
				return Query{}, fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, f)
			}
			q.Fields = append(q.Fields, f)
		}
	}

	if raw := v.Get(ParamPage); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 0 {
			return Query{}, fmt.Errorf("%w: page %q", ErrInvalidQuery, raw)
		}
		q.Page = page
	}

	if raw := v.Get(ParamPageSize); raw != "" {
		size, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || size == 0 {
			return Query{}, fmt.Errorf("%w: page_size %q", ErrInvalidQuery, raw)
		}
		q.PageSize = uint16(size)
	}

	return q.Normalize(), nil
}

// IsField reports whether name belongs to the record schema.
func IsField(name string) bool {
	return slices.Contains(Fields, name)
}
