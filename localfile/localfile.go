// Package localfile loads a replane.Snapshot from a YAML file: a way
// to develop against a fixed set of config definitions without a
// server. It is a one-shot load from a file into an initial Snapshot,
// not a mechanism for persisting a live client's state to disk.
package localfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/replane-dev/replane-go"
)

// document is the YAML shape this package accepts. The short form lets
// a fixture file list bare values:
//
//	configs:
//	  feature-a: true
//	  feature-b: "variant-2"
//
// The long form allows overrides, matching the wire entry shape:
//
//	configs:
//	  env-config:
//	    value: default
//	    overrides:
//	      - name: prod
//	        conditions:
//	          - kind: equals
//	            property: env
//	            value: { value: production }
//	        value: production-value
//	context:
//	  userId: "123"
type document struct {
	Configs map[string]yaml.Node `yaml:"configs"`
	Context map[string]any       `yaml:"context"`
}

// longForm is the long-form shape of a single configs entry.
type longForm struct {
	Value     any                `yaml:"value"`
	Overrides []replane.Override `yaml:"overrides"`
}

// Load reads path and decodes it into a Snapshot. Config names come
// from the YAML mapping keys; each value is either a bare scalar (the
// short form, becoming the base value with no overrides) or a mapping
// with `value`/`overrides` keys (the long form).
func Load(path string) (replane.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return replane.Snapshot{}, fmt.Errorf("replane/localfile: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes into a Snapshot, the same shape Load reads
// from disk. Exposed separately so callers can embed fixtures as Go
// string literals in tests instead of reading a file.
func Parse(b []byte) (replane.Snapshot, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return replane.Snapshot{}, fmt.Errorf("replane/localfile: decode: %w", err)
	}

	entries := make([]replane.Entry, 0, len(doc.Configs))
	for name, node := range doc.Configs {
		entry, err := decodeEntry(name, node)
		if err != nil {
			return replane.Snapshot{}, err
		}
		entries = append(entries, entry)
	}

	var ctx replane.Context
	if doc.Context != nil {
		ctx = doc.Context
	}
	return replane.StaticSnapshot(entries, ctx), nil
}

func decodeEntry(name string, node yaml.Node) (replane.Entry, error) {
	// Only treat a mapping as the long form when it carries an
	// "overrides" key: a bare object base value (e.g. {a: 1, b: 2})
	// must round-trip as that object, not be misread as a long-form
	// entry just because it happens to have no "overrides" key of its
	// own. Presence of "overrides" is the unambiguous signal.
	if node.Kind == yaml.MappingNode && hasKey(node, "overrides") {
		var lf longForm
		if err := node.Decode(&lf); err != nil {
			return replane.Entry{}, fmt.Errorf("replane/localfile: decode config %q: %w", name, err)
		}
		return replane.Entry{Name: name, Value: lf.Value, Overrides: lf.Overrides}, nil
	}

	var bare any
	if err := node.Decode(&bare); err != nil {
		return replane.Entry{}, fmt.Errorf("replane/localfile: decode config %q: %w", name, err)
	}
	return replane.Entry{Name: name, Value: bare}, nil
}

func hasKey(node yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
