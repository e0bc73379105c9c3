package inference

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// LoadClassNames reads the class index → label table from a dataset YAML.
// Both the list form and the indexed map form of "names" are accepted.
func LoadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	var dataset struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to parse dataset file: %w", err)
	}

	switch dataset.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := dataset.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("failed to decode class names: %w", err)
		}
		return names, nil
	case yaml.MappingNode:
		var indexed map[int]string
		if err := dataset.Names.Decode(&indexed); err != nil {
			return nil, fmt.Errorf("failed to decode class names: %w", err)
		}
		names := make([]string, len(indexed))
		for i, name := range indexed {
			if i < 0 || i >= len(names) {
				return nil, fmt.Errorf("class index %d out of range", i)
			}
			names[i] = name
		}
		return names, nil
	default:
		return nil, fmt.Errorf("dataset file has no class names")
	}
}

// ParseLabels reads YOLO label lines "class cx cy w h [conf]" in file order
func ParseLabels(r io.Reader, names []string) (domain.Detections, error) {
	detections := domain.Detections{}
	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("line %d: expected 5 fields, got %d", line, len(fields))
		}

		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid class index %q", line, fields[0])
		}
		if idx < 0 || idx >= len(names) {
			return nil, fmt.Errorf("line %d: unknown class index %d", line, idx)
		}

		var coords [4]float64
		for i := range coords {
			coords[i], err = strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid coordinate %q", line, fields[i+1])
			}
		}

		detections = append(detections, domain.Detection{
			ClassLabel: names[idx],
			CenterX:    coords[0],
			CenterY:    coords[1],
			Width:      coords[2],
			Height:     coords[3],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return detections, nil
}
