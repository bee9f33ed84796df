package fieldcost

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

type localpart string

type stringer struct{ s string }

func (s stringer) String() string { return s.s }

func TestCost(t *testing.T) {
	tm := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		kind Kind
		v    any
		exp  int64
	}{
		{KindText, "hi", 2},
		{KindText, "héé", 5},
		{KindText, "a€b", 5},
		{KindText, "", 0},
		{KindText, "\xff\xfe", 6},
		{KindText, "a\xffb", 5},
		{KindText, ptr("hi"), 2},
		{KindInteger, ptr(int64(7)), 8},
		{KindText, localpart("mjl"), 3},
		{KindFile, "a/b.pdf", 7},
		{KindInteger, int64(1 << 40), 8},
		{KindInteger, uint8(1), 8},
		{KindBool, true, 1},
		{KindBool, false, 1},
		{KindTemporal, tm, int64(len("2024-03-01T12:30:00Z"))},
		{KindTemporal, 90 * time.Second, int64(len("1m30s"))},
		{KindFloat, 3.25, 8},
		{KindBinary, []byte{1, 2, 3}, 3},
		{KindBinary, []byte(nil), 0},
		{KindUUID, id, 32},
		{KindForeignKey, int64(12345), 5},
		{KindUnknown, []string{"a", "b"}, int64(len("[a b]"))},
		{KindUnknown, stringer{"four"}, 4},
		{KindUnknown, map[string]int{"x": 1}, int64(len("map[x:1]"))},
	}
	for _, tc := range tests {
		if got := Cost(tc.kind, tc.v); got != tc.exp {
			t.Errorf("Cost(%s, %#v): got %d, expected %d", tc.kind, tc.v, got, tc.exp)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestCostNone(t *testing.T) {
	var nilText *string
	var nilTime *time.Time
	for k := range kindNames {
		if got := Cost(k, nil); got != NoneCost {
			t.Errorf("Cost(%s, nil): got %d, expected %d", k, got, NoneCost)
		}
		if got := Cost(k, nilText); got != NoneCost {
			t.Errorf("Cost(%s, (*string)(nil)): got %d, expected %d", k, got, NoneCost)
		}
		if got := Cost(k, nilTime); got != NoneCost {
			t.Errorf("Cost(%s, (*time.Time)(nil)): got %d, expected %d", k, got, NoneCost)
		}
	}
}

func TestKindOf(t *testing.T) {
	var s string
	var p *int32
	var f float32
	tests := []struct {
		v   any
		exp Kind
	}{
		{s, KindText},
		{localpart(""), KindText},
		{p, KindInteger},
		{uint64(0), KindInteger},
		{false, KindBool},
		{time.Time{}, KindTemporal},
		{time.Duration(0), KindTemporal},
		{f, KindFloat},
		{[]byte{}, KindBinary},
		{uuid.UUID{}, KindUUID},
		{[]string{}, KindUnknown},
		{map[string]string{}, KindUnknown},
		{struct{ X int }{}, KindUnknown},
	}
	for _, tc := range tests {
		if got := KindOf(reflect.TypeOf(tc.v)); got != tc.exp {
			t.Errorf("KindOf(%T): got %s, expected %s", tc.v, got, tc.exp)
		}
	}
}

func TestParseKind(t *testing.T) {
	for name, exp := range map[string]Kind{"text": KindText, "email": KindText, "datetime": KindTemporal, "decimal": KindFloat, "foreignkey": KindForeignKey} {
		k, err := ParseKind(name)
		if err != nil || k != exp {
			t.Errorf("ParseKind(%q): got %s, %v, expected %s", name, k, err, exp)
		}
	}
	if _, err := ParseKind("bogus"); err == nil {
		t.Errorf("ParseKind(bogus): expected error")
	}
}
