// Package frontmatter reads, merges, and writes the YAML front-matter
// block of a markdown document, backing the add_frontmatter and
// update_frontmatter tools.
package frontmatter

import (
	"bytes"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
)

// pattern matches a leading `---\n...\n---\n` block, mirroring the
// extraction regex internal/chunk uses to strip front-matter before
// chunking markdown bodies.
var pattern = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n?`)

// Split separates content into its front-matter YAML text (without
// delimiters, empty if absent) and the remaining body.
func Split(content []byte) (yamlText string, body []byte) {
	match := pattern.FindSubmatch(content)
	if match == nil {
		return "", content
	}
	return string(match[1]), content[len(match[0]):]
}

// Parse splits content and unmarshals its front-matter into a map. The
// returned map is nil (not an error) when content has no front-matter.
func Parse(content []byte) (fields map[string]any, body []byte, err error) {
	yamlText, body := Split(content)
	if yamlText == "" {
		return nil, body, nil
	}
	if err := yaml.Unmarshal([]byte(yamlText), &fields); err != nil {
		return nil, body, ragerrors.ParseFailedErr("front-matter is not valid YAML", err)
	}
	return fields, body, nil
}

// Add writes fields as a new front-matter block. It returns a Conflict
// RagError if content already has a front-matter block, since
// add_frontmatter is write-if-absent per spec's Tool Layer contract.
func Add(content []byte, fields map[string]any) ([]byte, error) {
	yamlText, _ := Split(content)
	if yamlText != "" {
		return nil, ragerrors.ConflictErr("document already has front-matter")
	}
	return render(fields, content)
}

// Update merges fields into the document's existing front-matter
// (creating the block if none exists), with fields taking precedence
// over any existing key of the same name.
func Update(content []byte, fields map[string]any) ([]byte, error) {
	existing, body, err := Parse(content)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		existing[k] = v
	}
	return render(existing, body)
}

func render(fields map[string]any, body []byte) ([]byte, error) {
	yamlBytes, err := yaml.Marshal(fields)
	if err != nil {
		return nil, ragerrors.ParseFailedErr("failed to marshal front-matter", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(yamlBytes)
	buf.WriteString("---\n")
	buf.Write(body)
	return buf.Bytes(), nil
}
