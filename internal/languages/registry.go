package languages

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/goccy/go-yaml"
)

//go:embed bundles.yaml scripts
var assets embed.FS

var (
	// ErrUnsupportedLanguage matches every lookup failure.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrInvalidName is returned when a matrix query names something that is
	// not a plain identifier.
	ErrInvalidName = errors.New("invalid variable name")
)

// UnsupportedLanguageError names the language a lookup failed for.
type UnsupportedLanguageError struct {
	Language string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("no inspection scripts registered for language %q", e.Language)
}

// Is makes errors.Is(err, ErrUnsupportedLanguage) hold.
func (e *UnsupportedLanguageError) Is(target error) bool {
	return target == ErrUnsupportedLanguage
}

// Model is the bundle of introspection source for one language.
type Model struct {
	LanguageID         string
	InitScript         string
	QueryCommand       string
	MatrixQueryCommand string
}

// MatrixCommand renders MatrixQueryCommand for one variable.
func (m Model) MatrixCommand(name string, maxRows int) (string, error) {
	if !identifier.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	tmpl, err := template.New(m.LanguageID).Option("missingkey=error").Parse(m.MatrixQueryCommand)
	if err != nil {
		return "", fmt.Errorf("parse matrix command for %s: %w", m.LanguageID, err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Name    string
		MaxRows int
	}{Name: name, MaxRows: maxRows})
	if err != nil {
		return "", fmt.Errorf("render matrix command for %s: %w", m.LanguageID, err)
	}
	return buf.String(), nil
}

// identifier accepts names from every bundled language (R allows dots,
// JavaScript allows $) and nothing that could break out of a string literal.
var identifier = regexp.MustCompile(`^[A-Za-z_.$][A-Za-z0-9_.$]*$`)

// ValidName reports whether name can be passed to a matrix query.
func ValidName(name string) bool {
	return identifier.MatchString(name)
}

type manifest struct {
	Bundles []struct {
		Languages []string `yaml:"languages"`
		Init      string   `yaml:"init"`
		Query     string   `yaml:"query"`
		Matrix    string   `yaml:"matrix"`
	} `yaml:"bundles"`
}

// Registry maps language identifiers to bundles. It is immutable once built.
type Registry struct {
	models map[string]Model
}

// Load builds a registry from a manifest inside fsys.
func Load(fsys fs.FS, manifestPath string) (*Registry, error) {
	data, err := fs.ReadFile(fsys, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	base := path.Dir(manifestPath)
	r := &Registry{models: make(map[string]Model)}
	for i, b := range m.Bundles {
		if len(b.Languages) == 0 {
			return nil, fmt.Errorf("bundle %d: no languages", i)
		}
		if strings.TrimSpace(b.Query) == "" || strings.TrimSpace(b.Matrix) == "" {
			return nil, fmt.Errorf("bundle %d (%s): query and matrix commands are required", i, b.Languages[0])
		}

		script, err := fs.ReadFile(fsys, path.Join(base, b.Init))
		if err != nil {
			return nil, fmt.Errorf("bundle %d (%s): %w", i, b.Languages[0], err)
		}

		for _, lang := range b.Languages {
			if _, dup := r.models[lang]; dup {
				return nil, fmt.Errorf("language %q registered twice", lang)
			}
			r.models[lang] = Model{
				LanguageID:         lang,
				InitScript:         string(script),
				QueryCommand:       b.Query,
				MatrixQueryCommand: b.Matrix,
			}
		}
	}
	return r, nil
}

// Lookup returns the bundle registered for languageID. Matching is exact
// and case-sensitive.
func (r *Registry) Lookup(languageID string) (Model, error) {
	m, ok := r.models[languageID]
	if !ok {
		return Model{}, &UnsupportedLanguageError{Language: languageID}
	}
	return m, nil
}

// Languages returns the registered identifiers in sorted order.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.models))
	for lang := range r.models {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

var builtin = mustLoad()

func mustLoad() *Registry {
	r, err := Load(assets, "bundles.yaml")
	if err != nil {
		panic("languages: embedded bundles are broken: " + err.Error())
	}
	return r
}

// Default returns the process-wide registry built from the embedded bundles.
func Default() *Registry {
	return builtin
}

// GetScript looks languageID up in the default registry.
func GetScript(languageID string) (Model, error) {
	return builtin.Lookup(languageID)
}

// Languages lists the identifiers of the default registry.
func Languages() []string {
	return builtin.Languages()
}
