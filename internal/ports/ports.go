// Package ports parses port specifications such as "22,80,8000-8100" and
// renders sorted port lists back in their compact range form.
package ports

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	minPort = 1
	maxPort = 65535
)

// Parse parses a port specification and returns its ports in ascending
// order, each once. Supported forms:
//   - single: "22"
//   - list: "22,80,443" (commas and/or whitespace)
//   - range: "1-1024"
//   - mixed: "22,80,8000-8100"
//
// An empty specification yields no ports and no error.
func Parse(spec string) ([]uint16, error) {
	tokens := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	out := make([]uint16, 0, len(tokens))
	for _, tok := range tokens {
		if strings.Contains(tok, "-") {
			start, end, err := parseRange(tok)
			if err != nil {
				return nil, err
			}
			for p := start; p <= end; p++ {
				out = append(out, uint16(p))
			}
			continue
		}
		p, err := parsePort(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, uint16(p))
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(spec string) []uint16 {
	p, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return p
}

func parseRange(tok string) (int, int, error) {
	bounds := strings.SplitN(tok, "-", 2)
	if bounds[0] == "" || bounds[1] == "" {
		return 0, 0, fmt.Errorf("incomplete range %q", tok)
	}
	start, err := parsePort(bounds[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parsePort(bounds[1])
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, fmt.Errorf("range start greater than end: %q", tok)
	}
	return start, end, nil
}

func parsePort(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a port number: %q", s)
	}
	if v < minPort || v > maxPort {
		return 0, errors.New("port numbers must be in 1..65535")
	}
	return v, nil
}

// FormatRanges renders sorted numbers compactly: runs of three or more
// become "a-b", a run of two stays "a,b".
func FormatRanges(numbers []int) string {
	if len(numbers) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(numbers[0]))

	runStart := numbers[0]
	prev := numbers[0]
	flush := func() {
		if prev == runStart {
			return
		}
		if runStart+1 == prev {
			sb.WriteByte(',')
		} else {
			sb.WriteByte('-')
		}
		sb.WriteString(strconv.Itoa(prev))
	}

	for _, n := range numbers[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush()
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(n))
		runStart, prev = n, n
	}
	flush()
	return sb.String()
}
