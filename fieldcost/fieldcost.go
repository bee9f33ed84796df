// Package fieldcost estimates the number of bytes a field value occupies.
//
// Each stored field has a category (Kind), determined once from its Go type or
// an explicit declaration. Cost applies the rule for the category to a value.
// The numbers are deliberately approximate: they are not the on-disk size in
// any particular storage engine, only a stable, declarative estimate.
package fieldcost

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind is the cost category of a field.
type Kind int

const (
	KindUnknown    Kind = iota // Fallback: length of the string form.
	KindText                   // Strings, e.g. email addresses, URLs, slugs, paths.
	KindInteger                // All sized signed/unsigned integers.
	KindBool
	KindTemporal               // time.Time and time.Duration.
	KindFloat                  // Floating point and fixed decimals.
	KindBinary                 // Raw bytes.
	KindUUID                   // Globally unique identifier.
	KindForeignKey             // Reference to the primary key of another record.
	KindFile                   // Reference to a file in a file backend, measured as text.
)

// Fixed costs.
const (
	NoneCost    = 1 // Cost of an absent (nil) value, for any kind.
	IntegerCost = 8
	BoolCost    = 1
	FloatCost   = 8
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindText:       "text",
	KindInteger:    "integer",
	KindBool:       "bool",
	KindTemporal:   "temporal",
	KindFloat:      "float",
	KindBinary:     "binary",
	KindUUID:       "uuid",
	KindForeignKey: "foreignkey",
	KindFile:       "file",
}

// Names accepted by ParseKind in addition to the canonical names.
var kindAliases = map[string]Kind{
	"string":    KindText,
	"richtext":  KindText,
	"email":     KindText,
	"url":       KindText,
	"slug":      KindText,
	"filepath":  KindText,
	"imagepath": KindText,
	"numeric":   KindInteger,
	"int":       KindInteger,
	"autoid":    KindInteger,
	"boolean":   KindBool,
	"date":      KindTemporal,
	"time":      KindTemporal,
	"datetime":  KindTemporal,
	"duration":  KindTemporal,
	"decimal":   KindFloat,
	"bytes":     KindBinary,
	"ref":       KindForeignKey,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the Kind for a name, as used in declarations.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("unknown field kind %q", s)
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	uuidType     = reflect.TypeOf(uuid.UUID{})
)

// KindOf returns the kind for values of Go type t. Pointer types have the kind
// of their element type. Foreign keys and file references cannot be recognized
// from a type alone and must be declared.
func KindOf(t reflect.Type) Kind {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t {
	case timeType, durationType:
		return KindTemporal
	case uuidType:
		return KindUUID
	}
	switch t.Kind() {
	case reflect.String:
		return KindText
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return KindInteger
	case reflect.Bool:
		return KindBool
	case reflect.Float32, reflect.Float64:
		return KindFloat
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return KindBinary
		}
	}
	return KindUnknown
}

// Cost returns the estimated number of bytes for value v of kind k. A nil v,
// including a nil pointer, always costs NoneCost: even the smallest indication
// of "empty" takes space. Non-nil pointers are costed by the value they point
// to.
func Cost(k Kind, v any) int64 {
	if v == nil {
		return NoneCost
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		for rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				return NoneCost
			}
			rv = rv.Elem()
		}
		v = rv.Interface()
	}
	switch k {
	case KindText, KindFile:
		return textLen(v)
	case KindInteger:
		return IntegerCost
	case KindBool:
		return BoolCost
	case KindTemporal:
		return int64(len(temporalString(v)))
	case KindFloat:
		return FloatCost
	case KindBinary:
		if buf, ok := v.([]byte); ok {
			return int64(len(buf))
		}
		return textLen(v)
	case KindUUID:
		switch id := v.(type) {
		case uuid.UUID:
			return int64(hex.EncodedLen(len(id)))
		case [16]byte:
			return int64(hex.EncodedLen(len(id)))
		}
		return textLen(v)
	case KindForeignKey:
		return int64(len(keyString(v)))
	}
	return textLen(v)
}

// textLen returns the length in bytes of the UTF-8 string form of v.
func textLen(v any) int64 {
	switch s := v.(type) {
	case string:
		return utf8Len(s)
	case []byte:
		return int64(len(s))
	case fmt.Stringer:
		return utf8Len(s.String())
	}
	return utf8Len(fmt.Sprint(v))
}

// utf8Len returns the length of s encoded as UTF-8. Each byte of an invalid
// sequence counts as the 3-byte replacement character it would be encoded as.
func utf8Len(s string) int64 {
	if utf8.ValidString(s) {
		return int64(len(s))
	}
	var n int64
	for _, c := range s {
		n += int64(utf8.RuneLen(c))
	}
	return n
}

func temporalString(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	}
	return fmt.Sprint(v)
}

func keyString(v any) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	}
	return fmt.Sprint(v)
}
