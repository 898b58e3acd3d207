package spec

import (
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNegativeWeight = errors.New("weight would become negative")

// SourceData accumulates a weight and the ids of the sources that
// contributed to it. The weight is never negative.
type SourceData struct {
	weight  decimal.Decimal
	sources []string
}

func NewSourceData(sources ...string) *SourceData {
	return &SourceData{sources: slices.Clone(sources)}
}

func (d *SourceData) Weight() decimal.Decimal { return d.weight }

// AddWeight adds w to the weight. A result below zero is rejected and the
// weight is left unchanged.
func (d *SourceData) AddWeight(w decimal.Decimal) error {
	next := d.weight.Add(w)
	if next.IsNegative() {
		return ErrNegativeWeight
	}
	d.weight = next
	return nil
}

func (d *SourceData) WeightSetToZero() { d.weight = decimal.Zero }

func (d *SourceData) Sources() []string   { return slices.Clone(d.sources) }
func (d *SourceData) AddSource(id string) { d.sources = append(d.sources, id) }
func (d *SourceData) ClearSourceList()    { d.sources = nil }

// Compare orders by weight.
func (d *SourceData) Compare(o *SourceData) int { return d.weight.Cmp(o.weight) }

// Equal compares the source lists only; weight is not part of identity.
func (d *SourceData) Equal(o *SourceData) bool {
	if d == nil || o == nil {
		return d == o
	}
	return slices.Equal(d.sources, o.sources)
}

// Key is a stable identity derived from the source list. Each id is
// length-prefixed so distinct lists never share a key.
func (d *SourceData) Key() string {
	var b strings.Builder
	for _, id := range d.sources {
		b.WriteString(strconv.Itoa(len(id)))
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}

// Only the weight is serialized; the source list is runtime bookkeeping.
type sourceDataJSON struct {
	Weight decimal.Decimal `json:"weight"`
}

func (d *SourceData) MarshalJSON() ([]byte, error) {
	return json.Marshal(sourceDataJSON{Weight: d.weight})
}

func (d *SourceData) UnmarshalJSON(b []byte) error {
	var v sourceDataJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Weight.IsNegative() {
		return ErrNegativeWeight
	}
	d.weight = v.Weight
	return nil
}

// ImplValue is the result of one computation for a spec.
type ImplValue struct {
	ID                  int                    `json:"id"`
	ValueTsMillis       int64                  `json:"valueTs"`
	CalculateTsMillis   int64                  `json:"calculateTs"`
	Value               decimal.Decimal        `json:"value"`
	SourceClassifyByKey map[string]*SourceData `json:"sourceClassifyByKey,omitempty"`
}

func NewImplValue(id int, valueTs time.Time) *ImplValue {
	return &ImplValue{
		ID:                  id,
		ValueTsMillis:       valueTs.UnixMilli(),
		SourceClassifyByKey: map[string]*SourceData{},
	}
}

// Source returns the bucket for key, creating it on first use.
func (v *ImplValue) Source(key string) *SourceData {
	if v.SourceClassifyByKey == nil {
		v.SourceClassifyByKey = map[string]*SourceData{}
	}
	d, ok := v.SourceClassifyByKey[key]
	if !ok {
		d = NewSourceData()
		v.SourceClassifyByKey[key] = d
	}
	return d
}

// TotalWeight sums the weights of every source bucket.
func (v *ImplValue) TotalWeight() decimal.Decimal {
	total := decimal.Zero
	for _, d := range v.SourceClassifyByKey {
		total = total.Add(d.weight)
	}
	return total
}
