package tunnel

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/keyring"
)

// Open builds a manager over the tunnels file in the config directory,
// private keys in the system keyring and wg-quick run through elevate.
func Open(elevate []string, opts ...Option) (*Manager, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	path, err := DefaultStorePath()
	if err != nil {
		return nil, err
	}
	runtimeDir, err := common.GetRuntimeDir()
	if err != nil {
		return nil, err
	}

	store := NewStore(afero.NewOsFs(), path, keyring.New(dir))
	m, err := NewManager(store, NewWgQuick(runtimeDir, elevate), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tunnel manager: %w", err)
	}
	return m, nil
}
