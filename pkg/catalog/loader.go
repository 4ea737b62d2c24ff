package catalog

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

const (
	manifestSuffix = ".skill.md"

	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var (
	skillNamePattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	actionNamePattern = regexp.MustCompile(`^[a-z0-9]+(?:_[a-z0-9]+)*$`)
)

// LoadError records one manifest that failed to load.
type LoadError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// LoadReport summarizes a catalogue load. Bad manifests are reported here;
// they never block the rest of the directory.
type LoadReport struct {
	Loaded []string    `json:"loaded"`
	Errors []LoadError `json:"errors,omitempty"`
}

// LoadDir scans root for `.skill.md` manifests and builds a Catalog.
// Directory order from os.ReadDir is lexical, so loading is deterministic.
func LoadDir(root string) (*Catalog, *LoadReport, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, errors.New(errors.CodeManifestParse, "read skills directory", err).
			WithContext("dir", root)
	}

	cat := &Catalog{skills: make(map[string]*Skill)}
	report := &LoadReport{}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), manifestSuffix) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		skill, err := LoadFile(path)
		if err != nil {
			report.Errors = append(report.Errors, LoadError{Path: path, Err: err.Error()})
			continue
		}
		if _, exists := cat.skills[skill.Name]; exists {
			err := errors.Newf(errors.CodeDuplicateAction, "duplicate skill %q", skill.Name)
			report.Errors = append(report.Errors, LoadError{Path: path, Err: err.Error()})
			continue
		}
		cat.skills[skill.Name] = skill
		cat.order = append(cat.order, skill.Name)
		report.Loaded = append(report.Loaded, skill.Name)
	}

	return cat, report, nil
}

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Actions     []Action `yaml:"actions"`
}

// LoadFile parses a single manifest file.
func LoadFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeManifestParse, "read manifest", err).
			WithContext("path", path)
	}
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, errors.New(errors.CodeManifestParse, "split frontmatter", err).
			WithContext("path", path)
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return nil, errors.New(errors.CodeManifestParse, "parse frontmatter", err).
			WithContext("path", path)
	}

	skill := &Skill{
		Name:        strings.TrimSpace(parsed.Name),
		Description: strings.TrimSpace(parsed.Description),
		Actions:     parsed.Actions,
		Doc:         strings.TrimSpace(body),
		Path:        path,
	}
	if err := validate(skill, path); err != nil {
		return nil, err
	}
	return skill, nil
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", stderrors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", stderrors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func validate(skill *Skill, path string) error {
	if skill.Name == "" {
		return errors.Newf(errors.CodeManifestParse, "name is required (%s)", path)
	}
	if utf8.RuneCountInString(skill.Name) > maxNameLen {
		return errors.Newf(errors.CodeManifestParse, "name exceeds %d characters", maxNameLen)
	}
	if !skillNamePattern.MatchString(skill.Name) {
		return errors.Newf(errors.CodeManifestParse, "name %q must match %s", skill.Name, skillNamePattern.String())
	}
	base := strings.TrimSuffix(filepath.Base(path), manifestSuffix)
	if base != skill.Name {
		return errors.Newf(errors.CodeManifestParse, "name %q must match file name (%s)", skill.Name, base)
	}
	if skill.Description == "" {
		return errors.Newf(errors.CodeManifestParse, "description is required (%s)", path)
	}
	if utf8.RuneCountInString(skill.Description) > maxDescriptionLen {
		return errors.Newf(errors.CodeManifestParse, "description exceeds %d characters", maxDescriptionLen)
	}
	if len(skill.Actions) == 0 {
		return errors.Newf(errors.CodeManifestParse, "at least one action is required (%s)", path)
	}

	seen := make(map[string]bool, len(skill.Actions))
	for i := range skill.Actions {
		a := &skill.Actions[i]
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			return errors.Newf(errors.CodeManifestParse, "action name is required (%s)", path)
		}
		if !actionNamePattern.MatchString(a.Name) {
			return errors.Newf(errors.CodeManifestParse, "action name %q must match %s", a.Name, actionNamePattern.String())
		}
		if seen[a.Name] {
			return errors.Newf(errors.CodeDuplicateAction, "duplicate action %q in skill %q", a.Name, skill.Name)
		}
		seen[a.Name] = true
		if strings.TrimSpace(a.Description) == "" {
			return errors.Newf(errors.CodeManifestParse, "action %q requires a description", a.Name)
		}
		switch a.Executor {
		case "", "builtin", "mcp":
		default:
			return errors.Newf(errors.CodeManifestParse, "action %q has unknown executor %q", a.Name, a.Executor)
		}
		if a.Executor == "mcp" && a.Endpoint == "" && a.Command == "" {
			return errors.Newf(errors.CodeManifestParse, "mcp action %q needs endpoint or command", a.Name)
		}
		if err := validateParameters(a, path); err != nil {
			return err
		}
	}
	return nil
}

func validateParameters(a *Action, path string) error {
	for name, p := range a.Parameters {
		switch p.Type {
		case "string", "integer", "number", "boolean", "array", "object":
		default:
			return errors.Newf(errors.CodeManifestParse,
				"action %q parameter %q has invalid type %q (%s)", a.Name, name, p.Type, path)
		}
	}
	return nil
}
