package normalize

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

var (
	stringType     = reflect.TypeOf("")
	stringPtrType  = reflect.TypeOf((*string)(nil))
	int64PtrType   = reflect.TypeOf((*int64)(nil))
	decimalPtrType = reflect.TypeOf((*decimal.Decimal)(nil))
	timeType       = reflect.TypeOf(time.Time{})
	timePtrType    = reflect.TypeOf((*time.Time)(nil))
)

var errBlank = eris.New("normalize: blank value")

// fieldSpec is one parsed row of the mapping table.
type fieldSpec struct {
	index     int
	src       string
	column    string
	precision int32
	scale     int32
	bits      int
	maxLen    int
	epoch     bool
}

var specCache sync.Map // reflect.Type -> []fieldSpec

func specsOf(t reflect.Type) []fieldSpec {
	if cached, ok := specCache.Load(t); ok {
		return cached.([]fieldSpec)
	}

	specs := make([]fieldSpec, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		spec := fieldSpec{
			index:  i,
			src:    f.Tag.Get("src"),
			column: f.Tag.Get("db"),
			epoch:  f.Tag.Get("epoch") == "true",
		}
		if spec.src == "" && spec.column == "" {
			continue
		}
		if num := f.Tag.Get("num"); num != "" {
			p, s, ok := strings.Cut(num, ",")
			if !ok {
				panic(fmt.Sprintf("normalize: bad num tag %q on %s.%s", num, t.Name(), f.Name))
			}
			spec.precision = int32(mustAtoi(p))
			spec.scale = int32(mustAtoi(s))
		}
		if bits := f.Tag.Get("int"); bits != "" {
			spec.bits = mustAtoi(bits)
		}
		if n := f.Tag.Get("len"); n != "" {
			spec.maxLen = mustAtoi(n)
		}
		specs = append(specs, spec)
	}

	specCache.Store(t, specs)
	return specs
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		panic(err)
	}
	return n
}

// warnings collects non-fatal conversion problems for one payload.
type warnings []string

func (w *warnings) addf(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}

// decode fills the src-tagged fields of dst (a pointer to struct) from src.
// Absent keys and JSON nulls leave the field nil; unconvertible values leave
// it nil and record a warning.
func decode(dst any, src map[string]any, w *warnings) {
	v := reflect.ValueOf(dst).Elem()
	for _, spec := range specsOf(v.Type()) {
		if spec.src == "" {
			continue
		}
		raw, ok := src[spec.src]
		if !ok || raw == nil {
			continue
		}

		fv := v.Field(spec.index)
		var (
			out reflect.Value
			err error
		)
		switch fv.Type() {
		case stringPtrType:
			var s string
			if s, err = toText(raw, spec.maxLen); err == nil {
				out = reflect.ValueOf(&s)
			}
		case int64PtrType:
			var n int64
			if n, err = toInt(raw, spec.bits); err == nil {
				out = reflect.ValueOf(&n)
			}
		case decimalPtrType:
			var d decimal.Decimal
			if d, err = toNumeric(raw, spec.precision, spec.scale); err == nil {
				out = reflect.ValueOf(&d)
			}
		case timePtrType:
			var t *time.Time
			if spec.epoch {
				t, err = epochDate(raw)
			} else {
				t, err = parseDate(raw)
			}
			if err == nil && t != nil {
				out = reflect.ValueOf(t)
			}
		default:
			panic(fmt.Sprintf("normalize: unsupported field type %s for %q", fv.Type(), spec.src))
		}

		if err != nil {
			if err != errBlank {
				w.addf("%s: %v", columnOrKey(spec), err)
			}
			continue
		}
		if out.IsValid() {
			fv.Set(out)
		}
	}
}

func columnOrKey(spec fieldSpec) string {
	if spec.column != "" {
		return spec.column
	}
	return spec.src
}

func toString(raw any) (string, error) {
	switch x := raw.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", errBlank
		}
		return s, nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", eris.Errorf("expected text, got %T", raw)
	}
}

func toDecimal(raw any) (decimal.Decimal, error) {
	switch x := raw.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, eris.Errorf("non-finite number %v", x)
		}
		return decimal.NewFromFloat(x), nil
	case float32:
		return toDecimal(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, errBlank
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, eris.Errorf("not a number: %q", s)
		}
		return d, nil
	default:
		return decimal.Zero, eris.Errorf("expected number, got %T", raw)
	}
}

// toText is toString limited to maxLen characters; 0 means unlimited.
func toText(raw any, maxLen int) (string, error) {
	s, err := toString(raw)
	if err != nil {
		return "", err
	}
	if maxLen > 0 {
		if n := utf8.RuneCountInString(s); n > maxLen {
			return "", eris.Errorf("text of %d characters exceeds %d", n, maxLen)
		}
	}
	return s, nil
}

func toInt64(raw any) (int64, error) {
	return toInt(raw, 64)
}

// toInt converts raw to an integer that fits a signed column of the given
// bit width; 0 means 64.
func toInt(raw any, bits int) (int64, error) {
	if bits <= 0 || bits > 64 {
		bits = 64
	}
	d, err := toDecimal(raw)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, eris.Errorf("expected integer, got %s", d.String())
	}
	hi := int64(math.MaxInt64 >> (64 - bits))
	if d.GreaterThan(decimal.NewFromInt(hi)) || d.LessThan(decimal.NewFromInt(-hi-1)) {
		return 0, eris.Errorf("integer %s out of range for %d-bit column", d.String(), bits)
	}
	return d.IntPart(), nil
}

// toNumeric converts raw to a decimal rounded to scale, rejecting values
// whose integer part does not fit NUMERIC(precision, scale).
func toNumeric(raw any, precision, scale int32) (decimal.Decimal, error) {
	d, err := toDecimal(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if precision == 0 {
		return d, nil
	}
	r := d.Round(scale)
	if r.Abs().GreaterThanOrEqual(decimal.New(1, precision-scale)) {
		return decimal.Zero, eris.Errorf("value %s exceeds NUMERIC(%d,%d)", d.String(), precision, scale)
	}
	return r, nil
}

// epochDate converts Unix seconds to a UTC calendar date. Zero means unknown.
func epochDate(raw any) (*time.Time, error) {
	n, err := toInt64(raw)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	t := truncateDay(time.Unix(n, 0))
	return &t, nil
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and keeps the date.
func parseDate(raw any) (*time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, eris.Errorf("expected date string, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d, nil
	}
	if len(s) > len(time.DateOnly) {
		if t, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)]); err == nil {
			return &t, nil
		}
	}
	return nil, eris.Errorf("unrecognised date %q", s)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Row returns the db-tagged columns of rec (a struct or pointer to struct)
// in declaration order, with values ready to bind as query arguments.
// Nil pointers bind as NULL; decimals bind as pgtype.Numeric.
func Row(rec any) ([]string, []any) {
	v := reflect.Indirect(reflect.ValueOf(rec))
	specs := specsOf(v.Type())

	cols := make([]string, 0, len(specs))
	vals := make([]any, 0, len(specs))
	for _, spec := range specs {
		if spec.column == "" {
			continue
		}
		cols = append(cols, spec.column)
		vals = append(vals, sqlValue(v.Field(spec.index)))
	}
	return cols, vals
}

func sqlValue(fv reflect.Value) any {
	switch fv.Type() {
	case stringType, timeType:
		return fv.Interface()
	}
	if fv.Kind() == reflect.Pointer && fv.IsNil() {
		return nil
	}
	switch fv.Type() {
	case decimalPtrType:
		d := fv.Interface().(*decimal.Decimal)
		return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
	case stringPtrType, int64PtrType, timePtrType:
		return fv.Elem().Interface()
	default:
		return fv.Interface()
	}
}
