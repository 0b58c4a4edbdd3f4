package resolver

import (
	"strings"
	"unicode"
)

// Transform is one enumerated rewrite of a model code.
type Transform string

// Known transforms. TransformSeries expands the rule's series templates.
const (
	TransformIdentity         Transform = "identity"
	TransformUpper            Transform = "upper"
	TransformLower            Transform = "lower"
	TransformStripHyphens     Transform = "strip_hyphens"
	TransformHyphenUnderscore Transform = "hyphen_underscore"
	TransformSeries           Transform = "series"
)

// DefaultTransforms is the pipeline used before anything is learned.
var DefaultTransforms = []Transform{
	TransformUpper,
	TransformIdentity,
	TransformStripHyphens,
	TransformHyphenUnderscore,
	TransformLower,
	TransformSeries,
}

// simpleTransforms are the code-only rewrites, in the order learning tries them.
var simpleTransforms = []Transform{
	TransformIdentity,
	TransformUpper,
	TransformStripHyphens,
	TransformHyphenUnderscore,
	TransformLower,
}

const modelPlaceholder = "{model}"

// Apply returns the variants t produces for code under rule.
func (t Transform) Apply(code string, rule PatternRule) []string {
	switch t {
	case TransformIdentity:
		return []string{code}
	case TransformUpper:
		return []string{strings.ToUpper(code)}
	case TransformLower:
		return []string{strings.ToLower(code)}
	case TransformStripHyphens:
		return []string{strings.ToUpper(strings.ReplaceAll(code, "-", ""))}
	case TransformHyphenUnderscore:
		return []string{strings.ToUpper(strings.ReplaceAll(code, "-", "_"))}
	case TransformSeries:
		return seriesVariants(code, rule.Series)
	default:
		return nil
	}
}

// Valid reports whether t is a known transform.
func (t Transform) Valid() bool {
	for _, known := range DefaultTransforms {
		if t == known {
			return true
		}
	}
	return false
}

// Variants runs the rule's pipeline over code and returns the distinct results in order.
func Variants(code string, rule PatternRule) []string {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	transforms := rule.Transforms
	if len(transforms) == 0 {
		transforms = DefaultTransforms
	}
	seen := make(map[string]struct{})
	var out []string
	for _, t := range transforms {
		for _, v := range t.Apply(code, rule) {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// seriesVariants expands templates containing {model} against the upper-cased code.
// Literal entries name a shared series stem and apply only to codes of the same family.
func seriesVariants(code string, series []string) []string {
	upper := strings.ToUpper(code)
	fam := family(upper)
	var out []string
	for _, s := range series {
		if strings.Contains(s, modelPlaceholder) {
			out = append(out, strings.ReplaceAll(s, modelPlaceholder, upper))
			continue
		}
		if fam != "" && family(s) == fam {
			out = append(out, s)
		}
	}
	return out
}

// family is the leading letters of a code plus its first digit ("OFE321" -> "OFE3").
func family(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
			return b.String()
		}
		if b.Len() > 0 {
			break
		}
	}
	return ""
}
