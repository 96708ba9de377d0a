package graphs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Number of decimal places branch lengths are rounded to
const DefaultPrecision = 5

const reservedChars = "()[]:;,'"

var ErrInvalidLabel = errors.New("invalid label")

// Newick string for the tree, terminated by ';'. Branch lengths are rounded to
// precision decimal places and printed in their shortest form (0.125, 0.2);
// a negative precision prints full precision. Labels containing Newick
// punctuation, spaces or tabs are single quoted. Returns ErrInvalidLabel for
// empty leaf labels or labels with other non-printable characters (line
// breaks included, since tree files hold one tree per line).
func (t *Tree) Newick(precision int) (string, error) {
	var sb strings.Builder
	if err := t.writeNewick(&sb, t.root, precision); err != nil {
		return "", err
	}
	sb.WriteByte(';')
	return sb.String(), nil
}

func (t *Tree) writeNewick(sb *strings.Builder, i, precision int) error {
	n := t.nodes[i]
	if n.IsLeaf() {
		label, err := QuoteLabel(n.Label)
		if err != nil {
			return err
		}
		sb.WriteString(label)
	} else {
		sb.WriteByte('(')
		if err := t.writeNewick(sb, n.Children[0], precision); err != nil {
			return err
		}
		sb.WriteByte(',')
		if err := t.writeNewick(sb, n.Children[1], precision); err != nil {
			return err
		}
		sb.WriteByte(')')
	}
	if i != t.root {
		sb.WriteByte(':')
		sb.WriteString(FormatLength(n.BranchLength, precision))
	}
	return nil
}

// Encodes a leaf label for Newick output, quoting it if needed
func QuoteLabel(label string) (string, error) {
	if label == "" {
		return "", fmt.Errorf("%w, leaf label is empty", ErrInvalidLabel)
	}
	if !utf8.ValidString(label) {
		return "", fmt.Errorf("%w, label %q is not valid UTF-8", ErrInvalidLabel, label)
	}
	quote := false
	for _, r := range label {
		if r != '\t' && !unicode.IsPrint(r) {
			return "", fmt.Errorf("%w, label %q contains non-printable character %U", ErrInvalidLabel, label, r)
		}
		if unicode.IsSpace(r) || strings.ContainsRune(reservedChars, r) {
			quote = true
		}
	}
	if !quote {
		return label, nil
	}
	return "'" + strings.ReplaceAll(label, "'", "''") + "'", nil
}

// Formats a branch length rounded to precision decimal places
func FormatLength(length float64, precision int) string {
	if precision >= 0 {
		scale := math.Pow10(precision)
		length = math.Round(length*scale) / scale
	}
	if length == 0 {
		length = 0 // drops the sign of -0
	}
	return strconv.FormatFloat(length, 'f', -1, 64)
}
