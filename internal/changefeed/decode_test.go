package changefeed

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		payload string
		want    Change
	}{
		{`{"id":7,"operation":"INSERT"}`, Change{ID: 7, Op: OpInsert, RawOp: "INSERT"}},
		{`{"operation":"update","id":"12"}`, Change{ID: 12, Op: OpUpdate, RawOp: "update"}},
		{`{"id":3,"operation":"DELETE","extra":true}`, Change{ID: 3, Op: OpDelete, RawOp: "DELETE"}},
		{`{"id":3,"operation":"TRUNCATE"}`, Change{ID: 3, Op: OpUnknown, RawOp: "TRUNCATE"}},
	}
	for _, tc := range cases {
		got, err := Decode(tc.payload)
		if err != nil {
			t.Fatalf("Decode(%s): %v", tc.payload, err)
		}
		if got != tc.want {
			t.Fatalf("Decode(%s)=%+v want %+v", tc.payload, got, tc.want)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		``,
		`not json`,
		`{"operation":"INSERT"}`,
		`{"id":null,"operation":"INSERT"}`,
		`{"id":7}`,
		`{"id":7.5,"operation":"INSERT"}`,
		`{"id":"seven","operation":"INSERT"}`,
	} {
		if _, err := Decode(payload); !errors.Is(err, ErrDecode) {
			t.Fatalf("Decode(%q) err=%v want ErrDecode", payload, err)
		}
	}
}

func TestOperationCodes(t *testing.T) {
	t.Parallel()

	if OpInsert != 1 || OpUpdate != 2 || OpDelete != 3 {
		t.Fatalf("operation codes changed: %d %d %d", OpInsert, OpUpdate, OpDelete)
	}
	for _, op := range []Operation{OpInsert, OpUpdate, OpDelete} {
		if ParseOperation(op.String()) != op {
			t.Fatalf("round trip failed for %s", op)
		}
	}
}
