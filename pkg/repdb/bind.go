package repdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// quoter quotes a single text or blob value using the engine's own quote()
// function, preserving binary content and special characters exactly the
// way the engine itself would render them.
type quoter interface {
	quote(ctx context.Context, value any) (string, error)
}

// BindArguments interpolates args into statement, replacing each ?
// placeholder left-to-right with the quoted form of the corresponding
// argument. The statement must contain exactly one ? per argument and no
// ? anywhere else (string literals included).
func BindArguments(ctx context.Context, q quoter, statement string, args []any) (string, error) {
	if len(args) == 0 {
		if strings.ContainsRune(statement, '?') {
			return "", fmt.Errorf("bind: statement has placeholders but no arguments")
		}
		return statement, nil
	}

	var b strings.Builder
	b.Grow(len(statement))
	next := 0
	for i := 0; i < len(statement); i++ {
		if statement[i] != '?' {
			b.WriteByte(statement[i])
			continue
		}
		if next >= len(args) {
			return "", fmt.Errorf("bind: more placeholders than arguments (%d)", len(args))
		}
		lit, err := quoteValue(ctx, q, args[next])
		if err != nil {
			return "", err
		}
		b.WriteString(lit)
		next++
	}
	if next != len(args) {
		return "", fmt.Errorf("bind: %d arguments for %d placeholders", len(args), next)
	}
	return b.String(), nil
}

// quoteValue renders value as a SQL literal. Integers and floats use their
// decimal form, nil becomes NULL, and text and blobs go through the
// engine's quote() function.
func quoteValue(ctx context.Context, q quoter, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string, []byte:
		return q.quote(ctx, v)
	default:
		return "", fmt.Errorf("bind: cannot quote value of type %T", value)
	}
}
