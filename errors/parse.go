package errors

import (
	"strconv"
	"strings"
)

// parse strips ${} markers from format and returns the marked item.
// A marker either holds a literal ("lock ${orders} ...") or a single
// formatting verb ("lock ${%s} ...", "lock ${%[2]s} ..."), in which case
// the item is the matching argument.
func parse(format string, args ...any) (string, any) {
	start := strings.Index(format, "${")
	if start < 0 {
		return format, nil
	}
	end := strings.IndexByte(format[start:], '}')
	if end < 0 {
		return format, nil
	}
	end += start

	param := format[start+2 : end]
	out := format[:start] + param + format[end+1:]

	if !strings.HasPrefix(param, "%") {
		return out, param
	}

	// position of the marked verb among the verbs in format
	n := countVerbs(format[:start])
	if i := strings.IndexByte(param, '['); i >= 0 {
		if j := strings.IndexByte(param, ']'); j > i {
			if pos, err := strconv.Atoi(param[i+1 : j]); err == nil && pos > 0 {
				n = pos - 1
			}
		}
	}
	if n < 0 || n >= len(args) {
		return out, nil
	}
	return out, args[n]
}

func countVerbs(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	return n
}
