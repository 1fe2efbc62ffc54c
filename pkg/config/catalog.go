package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source kinds understood by the extractor registry.
const (
	KindGithub = "http.github"
	KindCSV    = "file.csv"
)

// Sentinel catalog errors.
var (
	ErrNoSources       = errors.New("source catalog declares no sources")
	ErrDuplicateSource = errors.New("duplicate source name")
	ErrMissingName     = errors.New("source name must be set")
	ErrMissingKind     = errors.New("source kind must be set")
	ErrMissingDest     = errors.New("source destination must be set")
	ErrUnknownKind     = errors.New("unknown source kind")
)

// Source describes one configured source: its identity, which extractor
// to use, connection parameters, and the logical output destination.
// Immutable for the duration of a run.
type Source struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Destination string `yaml:"destination"`

	// CheckpointKey is the validated-record field whose value orders the
	// source (e.g. "updated_at"). Empty means the source does not
	// checkpoint by key range; for whole-file sources a second run with
	// an existing checkpoint is then a no-op.
	CheckpointKey string `yaml:"checkpoint_key"`

	Options SourceOptions `yaml:"options"`

	// Fields declares the output contract for sources without a
	// built-in schema (CSV). Ignored for kinds with built-in contracts.
	Fields []FieldSpec `yaml:"fields"`
}

// SourceOptions carries per-kind connection parameters. Unused fields
// stay zero for other kinds.
type SourceOptions struct {
	// GitHub options.
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	PerPage  int    `yaml:"per_page"`
	BaseURL  string `yaml:"base_url"`
	TokenEnv string `yaml:"token_env"`

	// CSV options.
	Path string `yaml:"path"`
}

// FieldSpec declares one output-contract field for catalog-defined schemas.
type FieldSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`

	// Alias is the raw-record key this field is read from when it
	// differs from Name (e.g. "user.login" for user_login).
	Alias string `yaml:"alias"`
}

// Catalog is the ordered collection of configured sources.
type Catalog struct {
	Sources []Source `yaml:"sources"`
}

// LoadCatalog reads and validates the source catalog at path. Order is
// preserved: sources run sequentially as declared.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source catalog: %w", err)
	}

	var catalog Catalog

	unmarshalErr := yaml.Unmarshal(data, &catalog)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("parse source catalog %s: %w", path, unmarshalErr)
	}

	validateErr := validateCatalog(&catalog)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid source catalog %s: %w", path, validateErr)
	}

	return &catalog, nil
}

func validateCatalog(catalog *Catalog) error {
	if len(catalog.Sources) == 0 {
		return ErrNoSources
	}

	seen := make(map[string]struct{}, len(catalog.Sources))

	for i := range catalog.Sources {
		src := &catalog.Sources[i]

		if src.Name == "" {
			return fmt.Errorf("%w (index %d)", ErrMissingName, i)
		}

		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSource, src.Name)
		}

		seen[src.Name] = struct{}{}

		if src.Kind == "" {
			return fmt.Errorf("%w: source %q", ErrMissingKind, src.Name)
		}

		if src.Kind != KindGithub && src.Kind != KindCSV {
			return fmt.Errorf("%w: %q (source %q)", ErrUnknownKind, src.Kind, src.Name)
		}

		if src.Destination == "" {
			return fmt.Errorf("%w: source %q", ErrMissingDest, src.Name)
		}
	}

	return nil
}
