package classify

import (
	"fmt"
	"strings"

	"github.com/hpungsan/trove/internal/item"
)

// Vocabulary is the fixed set of domains an item can be classified into,
// with a catch-all default for anything unrecognized.
type Vocabulary struct {
	domains []string
	byNorm  map[string]string
	def     string
}

// NewVocabulary builds a vocabulary. The default must be one of domains.
func NewVocabulary(domains []string, def string) (*Vocabulary, error) {
	v := &Vocabulary{byNorm: make(map[string]string, len(domains))}
	for _, d := range domains {
		d = strings.TrimSpace(d)
		norm := item.Normalize(d)
		if norm == "" || v.byNorm[norm] != "" {
			continue
		}
		v.byNorm[norm] = d
		v.domains = append(v.domains, d)
	}
	canonical, ok := v.byNorm[item.Normalize(def)]
	if !ok {
		return nil, fmt.Errorf("default domain %q is not in the vocabulary", def)
	}
	v.def = canonical
	return v, nil
}

// Coerce maps a model-supplied domain onto the vocabulary, case-insensitively.
func (v *Vocabulary) Coerce(domain string) string {
	if d, ok := v.byNorm[item.Normalize(domain)]; ok {
		return d
	}
	return v.def
}

// Domains returns the vocabulary in configured order.
func (v *Vocabulary) Domains() []string {
	return append([]string(nil), v.domains...)
}

// Default returns the catch-all domain.
func (v *Vocabulary) Default() string { return v.def }

// ContentKinds are the content kinds the classifier may assign.
var ContentKinds = []string{
	"tutorial", "tool", "news", "opinion", "reference",
	"research", "showcase", "discussion", "other",
}

func coerceContentKind(kind string) string {
	norm := item.Normalize(kind)
	for _, k := range ContentKinds {
		if k == norm {
			return k
		}
	}
	return "other"
}
