package global

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"agentdeck/internal/launch"
)

const contractTOMLFileName = "launch.toml"

// ContractStore reads and writes the launch contract as TOML.
type ContractStore struct {
	path string
}

func NewContractStore(dir string) *ContractStore {
	return &ContractStore{path: filepath.Join(dir, contractTOMLFileName)}
}

func NewContractStoreAt(path string) *ContractStore {
	return &ContractStore{path: path}
}

func (s *ContractStore) Path() string {
	return s.path
}

// LoadOrInit returns the stored contract, writing the default one on first
// use. A stored contract that fails validation is an error.
func (s *ContractStore) LoadOrInit() (launch.Contract, error) {
	b, err := os.ReadFile(s.path)
	if err == nil {
		var c launch.Contract
		if err := toml.Unmarshal(b, &c); err != nil {
			return launch.Contract{}, fmt.Errorf("decode %s: %w", s.path, err)
		}
		c = launch.Normalize(c)
		if err := c.Validate(); err != nil {
			return launch.Contract{}, fmt.Errorf("%s: %w", s.path, err)
		}
		return c, nil
	} else if !os.IsNotExist(err) {
		return launch.Contract{}, err
	}

	c := launch.DefaultContract()
	if err := s.Save(c); err != nil {
		return launch.Contract{}, err
	}
	return c, nil
}

func (s *ContractStore) Save(c launch.Contract) error {
	c = launch.Normalize(c)
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.path, c)
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
