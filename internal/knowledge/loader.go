package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agenthands/tsgcopilot/internal/core/model"
)

// Load reads guide nodes from a file or from every .json, .yaml and .yml
// file directly under a directory. A file holds a list of nodes or an
// {"extracted_elements": [...]} object. Nodes without a title take the file
// stem.
func Load(path string) ([]*model.Node, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("guide path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read guide dir: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			if e.IsDir() || !isGuideFile(e.Name()) {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	}

	var nodes []*model.Node
	for _, f := range files {
		got, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, got...)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoGuides, path)
	}
	return nodes, nil
}

// LoadTable loads path into a new node table.
func LoadTable(path string) (*Table, error) {
	nodes, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewTable(nodes...), nil
}

func LoadFile(path string) ([]*model.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guide file: %w", err)
	}

	var elems []model.Node
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		elems, err = decodeYAML(data)
	default:
		elems, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse guide file %s: %w", path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := make([]*model.Node, 0, len(elems))
	for i := range elems {
		n := elems[i]
		if n.Title == "" {
			n.Title = stem
		}
		out = append(out, &n)
	}
	return out, nil
}

func decodeJSON(data []byte) ([]model.Node, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []model.Node
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var wrapped model.GuideElements
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.ExtractedElements, nil
}

func decodeYAML(data []byte) ([]model.Node, error) {
	var list []model.Node
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		ExtractedElements []model.Node `yaml:"extracted_elements"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.ExtractedElements, nil
}

func isGuideFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
