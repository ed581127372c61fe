package idb

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StoreDescriptor names a store, its schema version and its collections.
// It must not be modified after being passed to Open.
type StoreDescriptor struct {
	Name        string                 `yaml:"name"`
	Version     uint64                 `yaml:"version"`
	Collections []CollectionDescriptor `yaml:"collections"`
}

type CollectionDescriptor struct {
	Name    string            `yaml:"name"`
	Indexes []IndexDescriptor `yaml:"indexes,omitempty"`
}

// IndexDescriptor describes a secondary index. Name doubles as the key path:
// a dot-separated field path inside the encoded record.
type IndexDescriptor struct {
	Name   string `yaml:"name"`
	Unique bool   `yaml:"unique,omitempty"`
}

const reservedPrefix = "_"

// Validate reports the first structural defect of the descriptor.
func (desc *StoreDescriptor) Validate() error {
	if desc == nil {
		return configErrf("", "", nil, "nil store descriptor")
	}
	if err := validateStoreName(desc.Name); err != nil {
		return configErrf(desc.Name, "", err, "invalid store descriptor")
	}
	if desc.Version == 0 {
		return configErrf(desc.Name, "", nil, "store version must be a positive whole number")
	}
	if len(desc.Collections) == 0 {
		return configErrf(desc.Name, "", nil, "no collections in store descriptor")
	}
	seen := make(map[string]bool, len(desc.Collections))
	for _, cd := range desc.Collections {
		if err := validateName("collection", cd.Name); err != nil {
			return configErrf(desc.Name, cd.Name, err, "invalid collection descriptor")
		}
		if strings.HasPrefix(cd.Name, reservedPrefix) {
			return configErrf(desc.Name, cd.Name, nil, "collection names starting with %q are reserved", reservedPrefix)
		}
		if seen[cd.Name] {
			return configErrf(desc.Name, cd.Name, nil, "duplicate collection")
		}
		seen[cd.Name] = true

		seenIdx := make(map[string]bool, len(cd.Indexes))
		for _, id := range cd.Indexes {
			if err := validateName("index", id.Name); err != nil {
				return configErrf(desc.Name, cd.Name, err, "invalid index descriptor")
			}
			if seenIdx[id.Name] {
				return configErrf(desc.Name, cd.Name, nil, "duplicate index %q", id.Name)
			}
			seenIdx[id.Name] = true
		}
	}
	return nil
}

func validateName(what, name string) error {
	if name == "" {
		return fmt.Errorf("empty %s name", what)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%s name %q contains NUL", what, name)
	}
	return nil
}

// validateStoreName also keeps names from escaping the engine directory.
func validateStoreName(name string) error {
	if err := validateName("store", name); err != nil {
		return err
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("store name %q contains a path separator", name)
	}
	return nil
}

func (desc *StoreDescriptor) Collection(name string) *CollectionDescriptor {
	for i := range desc.Collections {
		if desc.Collections[i].Name == name {
			return &desc.Collections[i]
		}
	}
	return nil
}

// ParseDescriptor decodes and validates a YAML store descriptor.
func ParseDescriptor(data []byte) (*StoreDescriptor, error) {
	desc := new(StoreDescriptor)
	if err := yaml.Unmarshal(data, desc); err != nil {
		return nil, configErrf("", "", err, "parsing store descriptor")
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

func LoadDescriptor(path string) (*StoreDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrf("", "", err, "reading store descriptor")
	}
	return ParseDescriptor(data)
}
