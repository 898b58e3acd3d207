package storage

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"specsync/internal/spec"
)

// specFromRow builds a spec from stored columns. A stored cron expression
// is re-canonicalized on load so legacy rows with non-canonical text are
// still accepted.
func specFromRow(id int, mnemonic string, cron *string, execute, gen bool) (*spec.ImplSpec, error) {
	c := ""
	if cron != nil {
		c = *cron
	}
	return spec.NewImplSpec(id, mnemonic, c, execute, gen)
}

func encodeSources(v *spec.ImplValue) ([]byte, error) {
	if len(v.SourceClassifyByKey) == 0 {
		return nil, nil
	}
	return json.Marshal(v.SourceClassifyByKey)
}

func resultFromRow(id int, valueTs, calcTs int64, value string, sources []byte) (*spec.ImplValue, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("result %d: value: %w", id, err)
	}
	v := &spec.ImplValue{
		ID:                  id,
		ValueTsMillis:       valueTs,
		CalculateTsMillis:   calcTs,
		Value:               d,
		SourceClassifyByKey: map[string]*spec.SourceData{},
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &v.SourceClassifyByKey); err != nil {
			return nil, fmt.Errorf("result %d: sources: %w", id, err)
		}
	}
	return v, nil
}

// changePayload is the JSON shape of a change notification. The database
// triggers produce the same shape.
func changePayload(id int, op string) string {
	b, _ := json.Marshal(struct {
		ID        int    `json:"id"`
		Operation string `json:"operation"`
	}{id, op})
	return string(b)
}
