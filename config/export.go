package config

import (
	"io"

	"github.com/BurntSushi/toml"
)

// Export writes cfg as TOML.
func Export(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}
