package simulation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadRequestFromFile reads a saved scenario, the body of a create request,
// from a JSON or YAML file. The format is picked by extension.
func LoadRequestFromFile(filename string) (*CreateConversationRequest, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var req CreateConversationRequest
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		err = json.NewDecoder(f).Decode(&req)
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(&req)
	default:
		return nil, errors.Errorf("unsupported scenario file extension %q", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode scenario %s", filename)
	}
	return &req, nil
}
