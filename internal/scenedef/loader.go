package scenedef

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultScenesDir points to the conventional location for scene files.
const DefaultScenesDir = "scenes"

// ConfigError reports a missing, malformed or inconsistent scene source.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("scenedef: %v", e.Err)
	}
	return fmt.Sprintf("scenedef: %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type rawScene struct {
	Settings Settings  `yaml:"settings"`
	Pages    yaml.Node `yaml:"pages"`
}

type rawPage struct {
	Content string    `yaml:"content"`
	Image   string    `yaml:"image"`
	ToPages yaml.Node `yaml:"to_pages"`
	Hooks   []string  `yaml:"hooks"`
}

// Parse decodes scene definitions from YAML or JSON bytes. Single-line "//"
// comments are stripped first so JSON sources may carry comments.
func Parse(data []byte) (map[string]Scene, error) {
	cleaned := StripComments(data)
	if len(bytes.TrimSpace(cleaned)) == 0 {
		return nil, &ConfigError{Err: errors.New("definition payload is empty")}
	}
	var root yaml.Node
	if err := yaml.Unmarshal(cleaned, &root); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode: %w", err)}
	}
	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, &ConfigError{Err: errors.New("top level must map scene names to scenes")}
	}
	scenes := make(map[string]Scene, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		name := doc.Content[i].Value
		if _, exists := scenes[name]; exists {
			return nil, &ConfigError{Err: fmt.Errorf("duplicate scene %s", name)}
		}
		sc, err := decodeScene(name, doc.Content[i+1])
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		scenes[name] = sc
	}
	return scenes, nil
}

func decodeScene(name string, node *yaml.Node) (Scene, error) {
	var raw rawScene
	if err := node.Decode(&raw); err != nil {
		return Scene{}, fmt.Errorf("scene %s: %w", name, err)
	}
	pageNodes, err := mappingPairs(&raw.Pages)
	if err != nil {
		return Scene{}, fmt.Errorf("scene %s pages: %w", name, err)
	}
	pages := make([]Page, 0, len(pageNodes))
	for _, pair := range pageNodes {
		var rp rawPage
		if err := pair.value.Decode(&rp); err != nil {
			return Scene{}, fmt.Errorf("scene %s page %s: %w", name, pair.key, err)
		}
		transitions, err := mappingPairs(&rp.ToPages)
		if err != nil {
			return Scene{}, fmt.Errorf("scene %s page %s to_pages: %w", name, pair.key, err)
		}
		p := Page{
			Name:    strings.TrimSpace(pair.key),
			Content: rp.Content,
			Image:   strings.TrimSpace(rp.Image),
			Hooks:   rp.Hooks,
		}
		for _, tr := range transitions {
			p.ToPages = append(p.ToPages, Transition{Target: strings.TrimSpace(tr.key), Label: tr.value.Value})
		}
		pages = append(pages, p)
	}
	return NewScene(name, raw.Settings, pages...)
}

type pair struct {
	key   string
	value *yaml.Node
}

// mappingPairs returns the key/value pairs of a mapping node in document order.
func mappingPairs(node *yaml.Node) ([]pair, error) {
	if node == nil || node.Kind == 0 {
		return nil, nil
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at line %d", node.Line)
	}
	out := make([]pair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = append(out, pair{key: node.Content[i].Value, value: node.Content[i+1]})
	}
	return out, nil
}

// StripComments removes "//" comments that start a line or follow whitespace
// outside a quoted string. URLs such as https://host survive because their
// slashes follow a colon.
func StripComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return bytes.Join(lines, []byte("\n"))
}

func stripLineComment(line []byte) []byte {
	var quote byte
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\' && quote == '"':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '/':
			if i+1 < len(line) && line[i+1] == '/' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t') {
				return bytes.TrimRight(line[:i], " \t")
			}
		}
	}
	return line
}

// LoadFile loads scene definitions from a single file.
func LoadFile(path string) (map[string]Scene, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	scenes, err := Parse(content)
	if err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.Source = path
			return nil, cerr
		}
		return nil, &ConfigError{Source: path, Err: err}
	}
	return scenes, nil
}

// LoadPath loads a single file or every *.yaml, *.yml and *.json file of a
// directory. A scene name may be defined only once across files.
func LoadPath(path string) (map[string]Scene, error) {
	if path == "" {
		path = DefaultScenesDir
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	if !info.IsDir() {
		return LoadFile(path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, &ConfigError{Source: path, Err: errors.New("no scene files found")}
	}
	merged := map[string]Scene{}
	for _, file := range files {
		scenes, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		for name, sc := range scenes {
			if _, exists := merged[name]; exists {
				return nil, &ConfigError{Source: file, Err: fmt.Errorf("scene %s already defined", name)}
			}
			merged[name] = sc
		}
	}
	return merged, nil
}
