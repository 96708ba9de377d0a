package graphs

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	quoteStart   = '\''
	quoteEnd     = '\''
	commentStart = '['
	commentEnd   = ']'

	placeholderBase = "phylogene_quoted_"
)

// Replaces every quoted label in nwk with a plain placeholder name and
// returns the rewritten string with a placeholder -> label map. Doubled
// quotes inside a label stand for one quote; bracketed comments are copied
// through untouched. Placeholders never occur in the input.
func unquoteLabels(nwk string) (string, map[string]string, error) {
	if !strings.ContainsRune(nwk, quoteStart) {
		return nwk, nil, nil
	}
	base := placeholderBase
	for strings.Contains(nwk, base) {
		base += "_"
	}
	var sb strings.Builder
	labels := make(map[string]string)
	for i := 0; i < len(nwk); {
		switch nwk[i] {
		case commentStart:
			end := strings.IndexByte(nwk[i:], commentEnd)
			if end < 0 {
				return "", nil, fmt.Errorf("%w, unterminated comment at offset %d", ErrInvalidNewick, i)
			}
			sb.WriteString(nwk[i : i+end+1])
			i += end + 1
		case quoteStart:
			label, n, err := readQuoted(nwk[i:])
			if err != nil {
				return "", nil, fmt.Errorf("%w at offset %d", err, i)
			}
			name := base + strconv.Itoa(len(labels))
			labels[name] = label
			sb.WriteString(name)
			i += n
		default:
			sb.WriteByte(nwk[i])
			i++
		}
	}
	return sb.String(), labels, nil
}

// Reads the quoted label at the start of s. Returns the label and the number
// of bytes consumed, closing quote included.
func readQuoted(s string) (string, int, error) {
	var label strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != quoteEnd {
			label.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == quoteEnd {
			label.WriteByte(quoteEnd)
			i++
			continue
		}
		return label.String(), i + 1, nil
	}
	return "", 0, fmt.Errorf("%w, unterminated quoted label", ErrInvalidNewick)
}
