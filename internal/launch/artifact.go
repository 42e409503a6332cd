package launch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	FormatEnv  = "env"
	FormatTOML = "toml"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

func isKnownFormat(format string) bool {
	switch format {
	case FormatEnv, FormatTOML, FormatYAML, FormatJSON:
		return true
	}
	return false
}

// ArtifactDoc is the document the agent reads at start. It carries no
// credentials.
type ArtifactDoc struct {
	Model   string `json:"model" toml:"model" yaml:"model"`
	Profile string `json:"profile" toml:"profile" yaml:"profile"`
	Attempt int    `json:"attempt" toml:"attempt" yaml:"attempt"`
}

func EncodeArtifact(format string, doc ArtifactDoc) ([]byte, error) {
	switch format {
	case FormatEnv:
		var b bytes.Buffer
		fmt.Fprintf(&b, "MODEL=%s\n", doc.Model)
		fmt.Fprintf(&b, "PROFILE=%s\n", doc.Profile)
		fmt.Fprintf(&b, "ATTEMPT=%d\n", doc.Attempt)
		return b.Bytes(), nil
	case FormatTOML:
		return toml.Marshal(doc)
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatJSON, "":
		return json.MarshalIndent(doc, "", "  ")
	default:
		return nil, fmt.Errorf("unknown artifact format %q", format)
	}
}

// WriteArtifact overwrites path with doc. Last writer wins.
func WriteArtifact(path, format string, doc ArtifactDoc) error {
	if path == "" {
		return nil
	}
	raw, err := EncodeArtifact(format, doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return os.Rename(tmp, path)
}
