package experiments

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReadFile decodes an experiments file. Unknown fields are rejected.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("experiments: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes experiments from YAML.
func Parse(data []byte) (File, error) {
	var file File
	if len(bytes.TrimSpace(data)) == 0 {
		return file, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return File{}, fmt.Errorf("experiments: parse: %w", err)
	}
	return file, nil
}

// LoadFile reads path and adds every valid experiment, replacing existing
// ones of the same name. Experiments that came from a previously loaded
// file and are no longer listed are removed; experiments added directly
// with Add are left alone. Invalid experiments are skipped, keeping any
// earlier definition, and their problems are returned as a combined error
// alongside the number loaded. A file that cannot be read changes nothing.
func (m *Manager) LoadFile(path string) (int, error) {
	file, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	return m.load(file)
}

func (m *Manager) load(file File) (int, error) {
	loaded := 0
	var problems []string
	listed := make(map[string]struct{}, len(file.Experiments))
	for _, exp := range file.Experiments {
		listed[exp.Name] = struct{}{}
		result := Validate(exp)
		if !result.Valid {
			m.logger.Warn("skipping invalid experiment", "experiment", exp.Name, "errors", result.Errors)
			problems = append(problems, fmt.Sprintf("%s: %s", exp.Name, strings.Join(result.Errors, "; ")))
			continue
		}
		m.Add(exp)
		loaded++
	}

	for _, name := range m.replaceFileNames(listed) {
		m.logger.Info("experiment removed from file", "experiment", name)
	}

	if len(problems) > 0 {
		return loaded, fmt.Errorf("experiments: invalid definitions: %s", strings.Join(problems, " | "))
	}
	return loaded, nil
}

// replaceFileNames records listed as the current file contents and removes
// experiments that the previous file listed but this one does not.
func (m *Manager) replaceFileNames(listed map[string]struct{}) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for name := range m.fileNames {
		if _, ok := listed[name]; ok {
			continue
		}
		if _, ok := m.experiments[name]; ok {
			delete(m.experiments, name)
			removed = append(removed, name)
		}
	}
	m.fileNames = listed
	sort.Strings(removed)
	return removed
}
