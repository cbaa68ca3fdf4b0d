package browser

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// CompileGlob turns a URL glob into a regexp anchored at both ends.
// "**" matches any run of characters, "*" any run without a slash and "?"
// a single non-slash character.
func CompileGlob(glob string) (*regexp.Regexp, error) {
	if glob == "" {
		return nil, errors.New("empty url glob")
	}

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch c := glob[i]; c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, errors.Wrapf(err, "compile url glob %q", glob)
	}
	return re, nil
}
