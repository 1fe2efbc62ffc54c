package schema

import (
	"errors"
	"fmt"

	"github.com/tributary-data/tributary/pkg/config"
)

// ErrNoContract indicates a source kind without a built-in contract and
// without declared fields in the catalog.
var ErrNoContract = errors.New("no schema contract for source")

// Registry maps source kinds to their validators, resolved once at
// startup so no per-record dispatch happens during a run.
type Registry struct {
	validators map[string]*Validator
}

// NewRegistry builds validators for every source in the catalog.
func NewRegistry(sources []config.Source) (*Registry, error) {
	validators := make(map[string]*Validator, len(sources))

	for _, src := range sources {
		contract, err := ContractFor(src)
		if err != nil {
			return nil, err
		}

		validator, err := New(contract)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}

		validators[src.Name] = validator
	}

	return &Registry{validators: validators}, nil
}

// Validator returns the validator for a source name.
func (r *Registry) Validator(source string) (*Validator, bool) {
	v, ok := r.validators[source]

	return v, ok
}

// ContractFor resolves the output contract for a source: built-in for
// GitHub issues, catalog-declared fields for CSV.
func ContractFor(src config.Source) (Contract, error) {
	switch src.Kind {
	case config.KindGithub:
		return GithubIssueContract(), nil
	case config.KindCSV:
		return contractFromSpecs(src)
	default:
		return Contract{}, fmt.Errorf("%w: %q (kind %q)", ErrNoContract, src.Name, src.Kind)
	}
}

func contractFromSpecs(src config.Source) (Contract, error) {
	if len(src.Fields) == 0 {
		return Contract{}, fmt.Errorf("%w: %q declares no fields", ErrNoContract, src.Name)
	}

	fields := make([]Field, 0, len(src.Fields))

	for _, spec := range src.Fields {
		fieldType, err := ParseFieldType(spec.Type)
		if err != nil {
			return Contract{}, fmt.Errorf("source %q field %q: %w", src.Name, spec.Name, err)
		}

		fields = append(fields, Field{
			Name:     spec.Name,
			Type:     fieldType,
			Required: spec.Required,
			Alias:    spec.Alias,
		})
	}

	return Contract{Fields: fields}, nil
}

// GithubIssueContract is the output contract for GitHub issue sources.
// Field order defines the column order of the columnar output.
func GithubIssueContract() Contract {
	return Contract{Fields: []Field{
		{Name: "id", Type: TypeInt64, Required: true},
		{Name: "number", Type: TypeInt64, Required: true},
		{Name: "title", Type: TypeString, Required: true},
		{Name: "state", Type: TypeString, Required: true},
		{Name: "user_login", Type: TypeString, Required: true, Alias: "user.login"},
		{Name: "comments", Type: TypeInt64, Required: true},
		{Name: "created_at", Type: TypeTimestamp, Required: true},
		{Name: "updated_at", Type: TypeTimestamp, Required: true},
		{Name: "closed_at", Type: TypeTimestamp},
		{Name: "repo_owner", Type: TypeString, Required: true},
		{Name: "repo_name", Type: TypeString, Required: true},
	}}
}
