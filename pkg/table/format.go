package table

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// FormatValue renders a scalar the way it appears in a saved table.
// Floats use the shortest round-trip form and keep a trailing ".0" when
// integral; NaN and nil are written as empty fields.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return ""
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, bitSize)
	}

	s := strconv.FormatFloat(f, 'f', -1, bitSize)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// encodeRecords writes records separated by sep and terminated by '\n'.
// Only fields containing the separator, a quote or a line break are quoted.
func encodeRecords(w io.Writer, records [][]string, sep string) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		for i, field := range rec {
			if i > 0 {
				if _, err := bw.WriteString(sep); err != nil {
					return err
				}
			}
			if err := writeField(bw, field, sep); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeField(bw *bufio.Writer, field, sep string) error {
	if !fieldNeedsQuote(field, sep) {
		_, err := bw.WriteString(field)
		return err
	}

	if err := bw.WriteByte('"'); err != nil {
		return err
	}
	if _, err := bw.WriteString(strings.ReplaceAll(field, `"`, `""`)); err != nil {
		return err
	}
	return bw.WriteByte('"')
}

func fieldNeedsQuote(field, sep string) bool {
	if sep != "" && strings.Contains(field, sep) {
		return true
	}
	return strings.ContainsAny(field, "\"\r\n")
}
