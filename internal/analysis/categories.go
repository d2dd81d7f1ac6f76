package analysis

import (
	"sort"
	"strings"
)

type category struct {
	name     string
	weight   float64
	keywords []string
}

func compileCategories(cfg []Category) []category {
	out := make([]category, 0, len(cfg))
	for _, c := range cfg {
		name := strings.TrimSpace(c.Name)
		keywords := normalizeKeywords(c.Keywords)
		if name == "" || len(keywords) == 0 {
			continue
		}
		weight := c.Weight
		if weight <= 0 {
			weight = 1
		}
		out = append(out, category{name: name, weight: weight, keywords: keywords})
	}
	return out
}

// Categorize returns the best matching category names, highest score first.
// A category scores weight * matched keywords / total keywords.
func (a *Analyzer) Categorize(title, body string) []string {
	if len(a.categories) == 0 {
		return nil
	}
	joined := " " + strings.Join(words(title+" "+body), " ") + " "

	type scored struct {
		name  string
		score float64
	}
	var matches []scored
	for _, c := range a.categories {
		n := 0
		for _, k := range c.keywords {
			if strings.Contains(joined, " "+k) {
				n++
			}
		}
		if n > 0 {
			matches = append(matches, scored{name: c.name, score: c.weight * float64(n) / float64(len(c.keywords))})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].name < matches[j].name
	})
	if len(matches) > a.cfg.MaxCategories {
		matches = matches[:a.cfg.MaxCategories]
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out
}
