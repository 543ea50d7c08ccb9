// Package summarize drives bottom-up, incremental summarization of files
// and directories: change detection against the two-level hashes, prompt
// construction with optional graph context, and smart invalidation of
// cached summaries whose graph context drifted.
package summarize

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/bradylowe/paranoid-coder/internal/errs"
	"github.com/bradylowe/paranoid-coder/internal/model"
)

// PromptVersion is stored on every summary and bumped when the templates
// change, which invalidates nothing by itself but lets tooling tell prompt
// generations apart.
const PromptVersion = "3"

// Required placeholders per template kind. Loading rejects any template
// missing one of these.
var requiredPlaceholders = map[model.SummaryKind][]string{
	model.KindFile:      {"{filename}", "{content}", "{existing}", "{length}", "{extension}"},
	model.KindDirectory: {"{dir_path}", "{children}", "{existing}", "{n_paragraphs}"},
}

// PromptManager resolves the template for a language and kind, applying
// overrides over the built-in defaults.
type PromptManager struct {
	templates map[string]string // key: "<language>:<kind>"
}

type promptConfigFile struct {
	Templates map[string]string `yaml:"templates"`
}

// NewPromptManager parses the built-in templates and overlays the project
// override file (JSON, keyed by "<language>:<kind>") when it exists.
func NewPromptManager(overridesPath string) (*PromptManager, error) {
	var cfg promptConfigFile
	if err := yaml.Unmarshal([]byte(defaultPromptConfig), &cfg); err != nil {
		return nil, fmt.Errorf("parse built-in prompt config: %w", err)
	}

	pm := &PromptManager{templates: make(map[string]string, len(cfg.Templates))}
	for key, tmpl := range cfg.Templates {
		if err := validateTemplate(key, tmpl); err != nil {
			return nil, err
		}
		pm.templates[key] = tmpl
	}

	if overridesPath != "" {
		if err := pm.loadOverrides(overridesPath); err != nil {
			return nil, err
		}
	}

	return pm, nil
}

func (pm *PromptManager) loadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.IoError, err, "read prompt overrides %s", path)
	}

	var overrides map[string]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return errs.Wrap(errs.InvalidTemplate, err, "parse prompt overrides %s", path)
	}

	for key, tmpl := range overrides {
		if err := validateTemplate(key, tmpl); err != nil {
			return err
		}
		pm.templates[key] = tmpl
	}
	return nil
}

// validateTemplate checks that all required placeholders for the key's
// kind appear.
func validateTemplate(key, tmpl string) error {
	kind := model.KindFile
	if strings.HasSuffix(key, ":directory") {
		kind = model.KindDirectory
	} else if !strings.HasSuffix(key, ":file") {
		return errs.New(errs.InvalidTemplate, "template key %q must end in :file or :directory", key)
	}

	for _, ph := range requiredPlaceholders[kind] {
		if !strings.Contains(tmpl, ph) {
			return errs.New(errs.InvalidTemplate, "template %q is missing required placeholder %s", key, ph).
				WithRemedy("add the placeholder to the override template")
		}
	}
	return nil
}

// FileTemplate returns the template for a language's files, falling back
// to the default.
func (pm *PromptManager) FileTemplate(language string) string {
	if tmpl, ok := pm.templates[language+":file"]; ok {
		return tmpl
	}
	return pm.templates["default:file"]
}

// DirectoryTemplate returns the directory template, falling back to the
// default.
func (pm *PromptManager) DirectoryTemplate(language string) string {
	if tmpl, ok := pm.templates[language+":directory"]; ok {
		return tmpl
	}
	return pm.templates["default:directory"]
}

// FilePromptInput carries the values substituted into a file template.
type FilePromptInput struct {
	Filename     string
	Content      string
	Existing     string
	Length       string
	Extension    string
	GraphContext string
}

// RenderFilePrompt substitutes the placeholders. Substitution is plain
// textual replacement, not a templating language.
func RenderFilePrompt(tmpl string, in FilePromptInput) string {
	content := in.Content
	if in.GraphContext != "" {
		content = in.GraphContext + "\n" + content
	}
	return strings.NewReplacer(
		"{filename}", in.Filename,
		"{content}", content,
		"{existing}", in.Existing,
		"{length}", in.Length,
		"{extension}", in.Extension,
	).Replace(tmpl)
}

// DirectoryPromptInput carries the values substituted into a directory
// template.
type DirectoryPromptInput struct {
	DirPath     string
	Children    string
	Existing    string
	NParagraphs string
}

// RenderDirectoryPrompt substitutes the directory placeholders.
func RenderDirectoryPrompt(tmpl string, in DirectoryPromptInput) string {
	return strings.NewReplacer(
		"{dir_path}", in.DirPath,
		"{children}", in.Children,
		"{existing}", in.Existing,
		"{n_paragraphs}", in.NParagraphs,
	).Replace(tmpl)
}

// Built-in templates. Language-specific entries override the default for
// their extension family.
const defaultPromptConfig = `
templates:
  "default:file": |
    Describe what this source file does and its role in the codebase.
    Write a {length} description. Do not repeat the code back.

    File: {filename} (extension {extension})
    {existing}

    Content:
    {content}

  "python:file": |
    Describe what this Python file does: its main classes and functions,
    what they are for, and how the file fits into the codebase.
    Write a {length} description. Do not repeat the code back.

    File: {filename} (extension {extension})
    {existing}

    Content:
    {content}

  "javascript:file": |
    Describe what this JavaScript module does: its exports, main functions
    and classes, and how the module fits into the codebase.
    Write a {length} description. Do not repeat the code back.

    File: {filename} (extension {extension})
    {existing}

    Content:
    {content}

  "typescript:file": |
    Describe what this TypeScript module does: its exports, types, main
    functions and classes, and how the module fits into the codebase.
    Write a {length} description. Do not repeat the code back.

    File: {filename} (extension {extension})
    {existing}

    Content:
    {content}

  "default:directory": |
    Describe the purpose of this directory based on what it contains.
    Write {n_paragraphs} paragraph(s). Focus on responsibilities, not file
    listings.

    Directory: {dir_path}
    {existing}

    Contents:
    {children}
`
