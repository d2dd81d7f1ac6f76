package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/warsite/contentpipe/internal/models"
)

// Sub-metric names. They double as keys in the quality weights map.
const (
	MetricLength         = "length"
	MetricReadability    = "readability"
	MetricStructure      = "structure"
	MetricKeywordDensity = "keyword_density"
	MetricErrorFree      = "error_free"
)

const (
	DefaultMinWords      = 100
	DefaultMaxWords      = 3000
	DefaultMaxCategories = 3

	neutralScore = 50.0
)

// DefaultWeights returns the stock sub-metric weights. They sum to 1.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		MetricLength:         0.20,
		MetricReadability:    0.25,
		MetricStructure:      0.20,
		MetricKeywordDensity: 0.15,
		MetricErrorFree:      0.20,
	}
}

// Category is a keyword set used for tagging.
type Category struct {
	Name     string
	Weight   float64
	Keywords []string
}

// Config tunes the analyzer.
type Config struct {
	Weights        map[string]float64
	MinWords       int
	MaxWords       int
	DomainKeywords []string
	Categories     []Category
	MaxCategories  int
}

type metricFunc func(d *document) (float64, error)

type weightedMetric struct {
	name   string
	weight float64
	fn     metricFunc
}

// Analyzer scores rewritten content and assigns categories. It holds no
// mutable state and is safe for concurrent use.
type Analyzer struct {
	cfg        Config
	metrics    []weightedMetric
	keywords   []string
	categories []category
	logger     *slog.Logger
}

// NewAnalyzer validates the configuration and builds an analyzer. Weights that
// do not sum to 1 are normalised with a warning.
func NewAnalyzer(cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.MinWords <= 0 {
		cfg.MinWords = DefaultMinWords
	}
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = DefaultMaxWords
	}
	if cfg.MaxWords < cfg.MinWords {
		logger.Warn("quality max_words below min_words, using defaults", "min_words", cfg.MinWords, "max_words", cfg.MaxWords)
		cfg.MinWords, cfg.MaxWords = DefaultMinWords, DefaultMaxWords
	}
	if cfg.MaxCategories <= 0 {
		cfg.MaxCategories = DefaultMaxCategories
	}

	a := &Analyzer{cfg: cfg, logger: logger}
	a.keywords = normalizeKeywords(cfg.DomainKeywords)
	a.categories = compileCategories(cfg.Categories)

	funcs := map[string]metricFunc{
		MetricLength:         a.lengthScore,
		MetricReadability:    readabilityScore,
		MetricStructure:      structureScore,
		MetricKeywordDensity: a.keywordDensityScore,
		MetricErrorFree:      errorFreeScore,
	}
	a.metrics = buildWeights(cfg.Weights, funcs, logger)
	return a
}

func buildWeights(configured map[string]float64, funcs map[string]metricFunc, logger *slog.Logger) []weightedMetric {
	weights := configured
	if len(weights) == 0 {
		weights = DefaultWeights()
	}

	sum := 0.0
	for name, w := range weights {
		if _, ok := funcs[name]; !ok {
			logger.Warn("unknown quality metric in weights, ignoring", "metric", name)
			continue
		}
		if w < 0 {
			logger.Warn("negative quality weight, treating as zero", "metric", name, "weight", w)
			continue
		}
		sum += w
	}

	if sum == 0 {
		logger.Warn("quality weights sum to zero, using defaults")
		return buildWeights(DefaultWeights(), funcs, logger)
	}
	if math.Abs(sum-1) > 1e-6 {
		logger.Warn("quality weights do not sum to 1, normalising", "sum", sum)
	}

	out := make([]weightedMetric, 0, len(funcs))
	for name, fn := range funcs {
		w := weights[name]
		if w <= 0 {
			continue
		}
		out = append(out, weightedMetric{name: name, weight: w / sum, fn: fn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Weights returns the effective, normalised weights.
func (a *Analyzer) Weights() map[string]float64 {
	out := make(map[string]float64, len(a.metrics))
	for _, m := range a.metrics {
		out[m.name] = m.weight
	}
	return out
}

// Analyze scores a rewritten title and body. maxSimilarity is the duplicate
// detector's highest similarity for the candidate.
func (a *Analyzer) Analyze(title, body string, maxSimilarity float64) models.Analysis {
	d := newDocument(title, body)

	result := models.Analysis{
		UniquenessScore: Uniqueness(maxSimilarity),
		Metrics:         make(map[string]float64, len(a.metrics)),
	}

	overall := 0.0
	for _, m := range a.metrics {
		score, err := runMetric(m.fn, d)
		if err != nil {
			a.logger.Debug("quality sub-metric degraded", "metric", m.name, "error", err)
			result.Degraded = append(result.Degraded, m.name)
			score = neutralScore
		}
		result.Metrics[m.name] = score
		overall += score * m.weight
	}
	result.QualityScore = clamp(overall, 0, 100)
	result.Categories = a.Categorize(title, body)

	return result
}

// runMetric isolates a sub-metric so a panic degrades only that metric.
func runMetric(fn metricFunc, d *document) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	score, err = fn(d)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("non-finite score %v", score)
	}
	return clamp(score, 0, 100), nil
}

// Uniqueness converts a similarity in [0,1] into a 0-100 score.
func Uniqueness(maxSimilarity float64) float64 {
	return clamp(100-100*maxSimilarity, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = strings.Join(words(k), " ")
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
