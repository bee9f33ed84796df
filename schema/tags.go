package schema

import (
	"fmt"
	"strings"
)

// tags holds the comma-separated words of a struct tag, each with optional
// space-separated parameter, in the same syntax as bstore struct tags.
type tags []string

func parseTags(tag string, allowed map[string]bool) (tags, error) {
	if tag == "" {
		return nil, nil
	}
	l := strings.Split(tag, ",")
	for _, s := range l {
		w := strings.SplitN(s, " ", 2)
		if allowed != nil && !allowed[w[0]] {
			return nil, fmt.Errorf("%w: unknown tag word %q", ErrDeclaration, w[0])
		}
	}
	return tags(l), nil
}

func (t tags) Has(word string) bool {
	for _, s := range t {
		if s == word {
			return true
		}
	}
	return false
}

func (t tags) Get(word string) (string, error) {
	wordsp := word + " "
	for _, s := range t {
		if strings.HasPrefix(s, wordsp) {
			r := s[len(wordsp):]
			if r == "" {
				return "", fmt.Errorf("%w: tag word %q requires non-empty parameter", ErrDeclaration, word)
			}
			return r, nil
		} else if s == word {
			return "", fmt.Errorf("%w: tag word %q requires parameter", ErrDeclaration, word)
		}
	}
	return "", nil
}

func (t tags) List(word string) []string {
	var l []string
	wordsp := word + " "
	for _, s := range t {
		if strings.HasPrefix(s, wordsp) {
			l = append(l, s[len(wordsp):])
		}
	}
	return l
}

// Words recognized in the "databyte" struct tag.
var databyteWords = map[string]bool{
	"total":    true, // Automated storage attribute.
	"parents":  true, // With total: include in counts of storage parents.
	"external": true, // External storage attribute.
	"file":     true, // Reference to file in file backend.
	"parent":   true, // Reference counts as storage parent. Requires bstore ref.
	"kind":     true, // Explicit cost kind.
	"-":        true, // Not included in own field cost.
}
