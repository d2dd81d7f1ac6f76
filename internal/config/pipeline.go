package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/warsite/contentpipe/internal/models"
	"gopkg.in/yaml.v3"
)

// PipelineFile is the operator-edited YAML document describing sources and
// the heuristics applied to their content.
type PipelineFile struct {
	Sources        []models.Source
	Prompts        Prompts
	Categories     []CategoryConfig
	DomainKeywords []string
	Quality        QualityConfig
	Thresholds     *models.Thresholds // nil when the file does not override env defaults

	// Warnings collects non-fatal problems found while loading, such as unreadable prompt files.
	Warnings []string
}

// Prompts holds the rewrite instruction templates. Empty values mean "use the built-in default".
type Prompts struct {
	Title string
	Body  string
}

// CategoryConfig is one keyword set used for heuristic tagging.
type CategoryConfig struct {
	Name     string   `yaml:"name"`
	Weight   float64  `yaml:"weight"`
	Keywords []string `yaml:"keywords"`
}

// QualityConfig tunes the quality sub-metrics.
type QualityConfig struct {
	Weights  map[string]float64 `yaml:"weights"`
	MinWords int                `yaml:"min_words"`
	MaxWords int                `yaml:"max_words"`
}

type pipelineDocument struct {
	Sources        []sourceEntry    `yaml:"sources"`
	Prompts        promptsEntry     `yaml:"prompts"`
	Categories     []CategoryConfig `yaml:"categories"`
	DomainKeywords []string         `yaml:"domain_keywords"`
	Quality        QualityConfig    `yaml:"quality"`
	Thresholds     *thresholdsEntry `yaml:"thresholds"`
}

type sourceEntry struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	URL         string        `yaml:"url"`
	Kind        string        `yaml:"kind"`
	Priority    string        `yaml:"priority"`
	Language    string        `yaml:"language"`
	Interval    time.Duration `yaml:"interval"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Enabled     *bool         `yaml:"enabled"`
}

type promptsEntry struct {
	Title     string `yaml:"title"`
	TitleFile string `yaml:"title_file"`
	Body      string `yaml:"body"`
	BodyFile  string `yaml:"body_file"`
}

type thresholdsEntry struct {
	MinQuality    *float64 `yaml:"min_quality"`
	MinUniqueness *float64 `yaml:"min_uniqueness"`
}

// LoadPipelineFile reads and validates the pipeline YAML at path. Relative
// prompt file paths are resolved against the directory holding the YAML.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	pf, err := ParsePipelineFile(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline config %s: %w", path, err)
	}
	return pf, nil
}

// ParsePipelineFile decodes a pipeline document. baseDir anchors relative prompt file paths.
func ParsePipelineFile(data []byte, baseDir string) (*PipelineFile, error) {
	var doc pipelineDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	pf := &PipelineFile{
		Categories:     doc.Categories,
		DomainKeywords: doc.DomainKeywords,
		Quality:        doc.Quality,
	}

	seen := make(map[string]bool, len(doc.Sources))
	for _, entry := range doc.Sources {
		src := entry.toSource()
		if err := src.Validate(); err != nil {
			return nil, err
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
		src.ApplyDefaults()
		pf.Sources = append(pf.Sources, src)
	}

	for _, c := range doc.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category name is required")
		}
		if c.Weight < 0 {
			return nil, fmt.Errorf("category %s: weight must be non-negative", c.Name)
		}
	}

	for name, w := range doc.Quality.Weights {
		if w < 0 {
			return nil, fmt.Errorf("quality weight %s must be non-negative", name)
		}
	}
	if doc.Quality.MinWords < 0 || doc.Quality.MaxWords < 0 {
		return nil, fmt.Errorf("quality word bounds must be non-negative")
	}
	if doc.Quality.MaxWords > 0 && doc.Quality.MinWords > doc.Quality.MaxWords {
		return nil, fmt.Errorf("quality min_words exceeds max_words")
	}

	if doc.Thresholds != nil {
		th := models.Thresholds{MinQuality: -1, MinUniqueness: -1}
		if doc.Thresholds.MinQuality != nil {
			th.MinQuality = *doc.Thresholds.MinQuality
		}
		if doc.Thresholds.MinUniqueness != nil {
			th.MinUniqueness = *doc.Thresholds.MinUniqueness
		}
		pf.Thresholds = &th
	}

	pf.Prompts.Title = resolvePrompt(doc.Prompts.Title, doc.Prompts.TitleFile, baseDir, &pf.Warnings)
	pf.Prompts.Body = resolvePrompt(doc.Prompts.Body, doc.Prompts.BodyFile, baseDir, &pf.Warnings)

	return pf, nil
}

// ApplyThresholds overlays file thresholds onto base. Unset file values (negative) keep base.
func (pf *PipelineFile) ApplyThresholds(base models.Thresholds) models.Thresholds {
	if pf == nil || pf.Thresholds == nil {
		return base
	}
	if pf.Thresholds.MinQuality >= 0 {
		base.MinQuality = pf.Thresholds.MinQuality
	}
	if pf.Thresholds.MinUniqueness >= 0 {
		base.MinUniqueness = pf.Thresholds.MinUniqueness
	}
	return base
}

func (e sourceEntry) toSource() models.Source {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return models.Source{
		ID:          e.ID,
		Name:        e.Name,
		URL:         e.URL,
		Kind:        models.SourceKind(defaultString(e.Kind, string(models.SourceKindTextFeed))),
		Priority:    models.SourcePriority(e.Priority),
		Language:    e.Language,
		Interval:    e.Interval,
		MinInterval: e.MinInterval,
		MaxInterval: e.MaxInterval,
		Enabled:     enabled,
	}
}

// resolvePrompt prefers the inline template, then the file. An unreadable file
// is reported as a warning and the built-in default applies downstream.
func resolvePrompt(inline, file, baseDir string, warnings *[]string) string {
	if inline != "" {
		return inline
	}
	if file == "" {
		return ""
	}
	if !filepath.IsAbs(file) && baseDir != "" {
		file = filepath.Join(baseDir, file)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("prompt template %s unavailable, using default: %v", file, err))
		return ""
	}
	return string(data)
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
