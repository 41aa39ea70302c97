package file

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape: a single top-level "users" mapping.
type document struct {
	Users map[string]fileUser `json:"users" yaml:"users"`
}

type fileUser struct {
	Password string `json:"password" yaml:"password"`
	Options  any    `json:"options" yaml:"options"`
}

// codec encodes and decodes the backing file.
type codec interface {
	encode(doc document) ([]byte, error)
	decode(data []byte) (document, error)
	name() string
}

// codecFor picks YAML for .yaml/.yml files and JSON otherwise.
func codecFor(path string) codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlCodec{}
	default:
		return jsonCodec{}
	}
}

type jsonCodec struct{}

func (jsonCodec) name() string { return "json" }

func (jsonCodec) encode(doc document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (jsonCodec) decode(data []byte) (document, error) {
	var doc document
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return document{}, err
	}
	if dec.More() {
		return document{}, fmt.Errorf("trailing data after users document")
	}
	return doc, nil
}

const yamlHeader = `# This file is maintained by userfiledao. Its structure may be rewritten on save.
# You can safely add users, remove users or change password hashes by hand.
`

type yamlCodec struct{}

func (yamlCodec) name() string { return "yaml" }

func (yamlCodec) encode(doc document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(yamlHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (yamlCodec) decode(data []byte) (document, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return document{}, nil
		}
		return document{}, err
	}
	return doc, nil
}
