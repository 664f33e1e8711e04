package lexicon

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and compiles the lexicon YAML file at path.
func Load(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: open %q: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes a YAML lexicon from r and compiles it. Unknown keys
// are rejected so that typos do not silently drop terms.
func LoadFromReader(r io.Reader) (*Lexicon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lexicon: read: %w", err)
	}

	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("lexicon: decode YAML: %w", err)
	}
	return New(def)
}

// Marshal renders def as YAML. It is the inverse of LoadFromReader and is used
// to export the built-in lexicon as a starting point for customisation.
func Marshal(def Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return nil, fmt.Errorf("lexicon: encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("lexicon: encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}
