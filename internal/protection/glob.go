package protection

import (
	"fmt"
	"regexp"
	"strings"
)

// compileGlob translates a glob-like pattern into an anchored, case-sensitive
// regular expression. Supported metacharacters:
//
//	**  matches any run of characters, including path separators
//	*   matches any run of characters except '/'
//	?   matches exactly one character except '/'
//
// Everything else is matched literally.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				sb.WriteString(".*")
				i++
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// patternList is an ordered set of glob patterns compiled once at
// construction. Pattern lists are static for the process lifetime, so the
// compiled expressions are cached for every subsequent match.
type patternList struct {
	patterns []string
	compiled []*regexp.Regexp
}

func newPatternList(patterns []string) (*patternList, error) {
	list := &patternList{patterns: patterns}
	for _, p := range patterns {
		re, err := compileGlob(p)
		if err != nil {
			return nil, err
		}
		list.compiled = append(list.compiled, re)
	}
	return list, nil
}

// match tests the path against each pattern in order
func (l *patternList) match(path string) bool {
	for _, re := range l.compiled {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
