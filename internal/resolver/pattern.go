package resolver

import (
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/equipment-manuals/internal/catalog"
)

const maxSeries = 32

// PatternRule is a manufacturer's recipe for guessing manual filenames.
type PatternRule struct {
	Manufacturer string      `json:"manufacturer"`
	Prefix       string      `json:"prefix"`
	Transforms   []Transform `json:"transforms"`
	Suffixes     []string    `json:"suffixes"`
	Series       []string    `json:"series,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with r.
func (r PatternRule) Clone() PatternRule {
	r.Transforms = slices.Clone(r.Transforms)
	r.Suffixes = slices.Clone(r.Suffixes)
	r.Series = slices.Clone(r.Series)
	return r
}

var prefixSeeds = map[string]string{
	"henny-penny":  "HEN-",
	"apw-wyott":    "APW-",
	"delfield":     "DEL-",
	"frymaster":    "FM-",
	"true":         "TRUE-",
	"accutemp":     "ACC-",
	"vulcan":       "VUL-",
	"hobart":       "HOB-",
	"wells":        "WEL-",
	"star":         "STA-",
	"beverage-air": "BEV-",
	"alto-shaam":   "ALT-",
	"garland":      "GAR-",
	"pitco":        "PIT-",
	"blodgett":     "BLO-",
	"cleveland":    "CLE-",
	"lincoln":      "LIN-",
	"middleby":     "MID-",
	"rational":     "RAT-",
	"southbend":    "SOU-",
}

var seriesSeeds = map[string][]string{
	"henny-penny": {"{model}-600", "PF{model}"},
}

// DefaultRule builds the starting rule for a manufacturer with nothing learned.
func DefaultRule(mfr catalog.Manufacturer) PatternRule {
	id := strings.ToLower(mfr.ID)
	return PatternRule{
		Manufacturer: id,
		Prefix:       DerivePrefix(mfr),
		Transforms:   slices.Clone(DefaultTransforms),
		Suffixes:     slices.Clone(catalog.ManualTypes),
		Series:       slices.Clone(seriesSeeds[id]),
	}
}

// DerivePrefix returns the seeded prefix for a manufacturer, or the first three
// alphanumerics of its name upper-cased.
func DerivePrefix(mfr catalog.Manufacturer) string {
	for _, key := range []string{mfr.ID, mfr.URI, mfr.Name} {
		if p, ok := prefixSeeds[catalog.Slugify(key)]; ok {
			return p
		}
	}
	name := mfr.Name
	if name == "" {
		name = mfr.ID
	}
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() == 3 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "UNK-"
	}
	return b.String() + "-"
}

// Candidate is a guessed manual URL and the type it would hold.
type Candidate struct {
	URL  string
	Type string
}

// Candidates crosses the code's variants with the rule's suffixes.
func Candidates(baseURL, manualPath, code string, rule PatternRule) []Candidate {
	suffixes := rule.Suffixes
	if len(suffixes) == 0 {
		suffixes = catalog.ManualTypes
	}
	base := strings.TrimRight(baseURL, "/") + "/" + strings.Trim(manualPath, "/") + "/"
	var out []Candidate
	for _, v := range Variants(code, rule) {
		for _, s := range suffixes {
			out = append(out, Candidate{
				URL:  base + rule.Prefix + v + "_" + s + ".pdf",
				Type: s,
			})
		}
	}
	return out
}

var manualFileRe = regexp.MustCompile(`^([A-Za-z0-9]+-)(.+)_([A-Za-z]+)\.pdf$`)

// Decomposition is a manual filename split into prefix, stem and type suffix.
type Decomposition struct {
	Prefix string
	Stem   string
	Suffix string
}

// Decompose splits "HEN-500-600_pm.pdf" into {HEN-, 500-600, pm}.
func Decompose(fileName string) (Decomposition, bool) {
	m := manualFileRe.FindStringSubmatch(fileName)
	if m == nil {
		return Decomposition{}, false
	}
	return Decomposition{Prefix: strings.ToUpper(m[1]), Stem: m[2], Suffix: strings.ToLower(m[3])}, true
}

// Learn folds scraped manual filenames for code into a copy of rule and
// reports whether it changed. rule itself is never modified.
func Learn(rule PatternRule, code string, manuals []catalog.ManualReference) (PatternRule, bool) {
	rule = rule.Clone()
	changed := false
	prefixVotes := map[string]int{}
	for _, m := range manuals {
		d, ok := Decompose(catalog.FileName(m.URL))
		if !ok {
			continue
		}
		prefixVotes[d.Prefix]++
		if !slices.Contains(rule.Suffixes, d.Suffix) {
			rule.Suffixes = append(rule.Suffixes, d.Suffix)
			changed = true
		}
		if t, ok := matchTransform(code, d.Stem, rule); ok {
			if promote(&rule, t) {
				changed = true
			}
			continue
		}
		if addSeries(&rule, seriesEntry(code, d.Stem)) {
			changed = true
		}
	}
	if best := topVote(prefixVotes); best != "" && best != rule.Prefix {
		rule.Prefix = best
		changed = true
	}
	return rule, changed
}

func matchTransform(code, stem string, rule PatternRule) (Transform, bool) {
	for _, t := range simpleTransforms {
		for _, v := range t.Apply(code, rule) {
			if v == stem {
				return t, true
			}
		}
	}
	return "", false
}

// promote moves t to the front of the pipeline so it is tried first.
func promote(rule *PatternRule, t Transform) bool {
	idx := slices.Index(rule.Transforms, t)
	if idx == 0 {
		return false
	}
	if idx > 0 {
		rule.Transforms = slices.Delete(rule.Transforms, idx, idx+1)
	}
	rule.Transforms = slices.Insert(rule.Transforms, 0, t)
	return true
}

// seriesEntry turns a stem into a {model} template when it embeds the code,
// otherwise keeps it as a literal series stem.
func seriesEntry(code, stem string) string {
	for _, v := range []string{strings.ToUpper(code), code} {
		if len(v) >= 2 && strings.Contains(stem, v) {
			return strings.Replace(stem, v, modelPlaceholder, 1)
		}
	}
	return stem
}

func addSeries(rule *PatternRule, entry string) bool {
	if entry == "" || slices.Contains(rule.Series, entry) {
		return false
	}
	if !slices.Contains(rule.Transforms, TransformSeries) {
		rule.Transforms = append(rule.Transforms, TransformSeries)
	}
	rule.Series = append(rule.Series, entry)
	if len(rule.Series) > maxSeries {
		rule.Series = rule.Series[len(rule.Series)-maxSeries:]
	}
	return true
}

func topVote(votes map[string]int) string {
	best, bestN := "", 0
	for p, n := range votes {
		if n > bestN || (n == bestN && p < best) {
			best, bestN = p, n
		}
	}
	return best
}
