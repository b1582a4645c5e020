package fs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"annotator/internal/domain"
)

// TagSet is an ordered list of tag definitions plus optional few-shot
// examples.
type TagSet struct {
	Tags    []domain.TagDefinition  `yaml:"tags"`
	FewShot []domain.FewShotExample `yaml:"few_shot"`
}

// Names returns the tag names in order.
func (t TagSet) Names() []string {
	names := make([]string, len(t.Tags))
	for i, tag := range t.Tags {
		names[i] = tag.Name
	}
	return names
}

// LoadTagSet reads a tag set from a .csv file (columns tag_name, definition,
// examples) or a YAML file holding either a bare list of tags or a TagSet.
func LoadTagSet(path string) (TagSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return TagSet{}, err
	}
	defer f.Close()

	var set TagSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		set.Tags, err = parseTagCSV(f)
	case ".yaml", ".yml":
		set, err = parseTagYAML(f)
	default:
		return TagSet{}, fmt.Errorf("unsupported tag set format: %s", path)
	}
	if err != nil {
		return TagSet{}, fmt.Errorf("failed to parse tag set %s: %w", path, err)
	}
	if len(set.Tags) == 0 {
		return TagSet{}, fmt.Errorf("tag set %s defines no tags", path)
	}
	return set, nil
}

func parseTagCSV(r io.Reader) ([]domain.TagDefinition, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	nameCol, ok := col["tag_name"]
	if !ok {
		return nil, errors.New("missing tag_name column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var tags []domain.TagDefinition
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if nameCol >= len(row) || strings.TrimSpace(row[nameCol]) == "" {
			continue
		}
		tags = append(tags, domain.TagDefinition{
			Name:       strings.TrimSpace(row[nameCol]),
			Definition: field(row, "definition"),
			Examples:   field(row, "examples"),
		})
	}
	return tags, nil
}

func parseTagYAML(r io.Reader) (TagSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return TagSet{}, err
	}

	var list []domain.TagDefinition
	if err := yaml.Unmarshal(data, &list); err == nil {
		return TagSet{Tags: list}, nil
	}

	var set TagSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return TagSet{}, err
	}
	return set, nil
}
