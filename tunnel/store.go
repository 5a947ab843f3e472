package tunnel

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/yllada/tunnelbar/common"
	"gopkg.in/yaml.v3"
)

// Store persists tunnels to a YAML file. Private keys never reach the file;
// they are kept in the credential store under the tunnel ID.
type Store struct {
	fs    afero.Fs
	path  string
	creds common.CredentialStore
	mu    sync.Mutex
}

type record struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Created   time.Time       `yaml:"created"`
	LastUsed  time.Time       `yaml:"last_used,omitempty"`
	Interface interfaceRecord `yaml:"interface"`
	Peers     []peerRecord    `yaml:"peers,omitempty"`
}

type interfaceRecord struct {
	PublicKey  string   `yaml:"public_key,omitempty"`
	Addresses  []string `yaml:"addresses,omitempty"`
	DNS        []string `yaml:"dns,omitempty"`
	ListenPort int      `yaml:"listen_port,omitempty"`
	MTU        int      `yaml:"mtu,omitempty"`
}

type peerRecord struct {
	PublicKey           string   `yaml:"public_key"`
	PresharedKey        string   `yaml:"preshared_key,omitempty"`
	Endpoint            string   `yaml:"endpoint,omitempty"`
	AllowedIPs          []string `yaml:"allowed_ips,omitempty"`
	PersistentKeepalive int      `yaml:"persistent_keepalive,omitempty"`
}

// NewStore returns a store backed by path on fs.
func NewStore(fs afero.Fs, path string, creds common.CredentialStore) *Store {
	return &Store{fs: fs, path: path, creds: creds}
}

// DefaultStorePath returns the tunnels file inside the config directory.
func DefaultStorePath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.TunnelsFileName), nil
}

// Load reads all tunnels. A missing file yields no tunnels.
func (s *Store) Load() ([]*Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tunnels file: %w", err)
	}

	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse tunnels file: %w", err)
	}

	tunnels := make([]*Tunnel, 0, len(records))
	for _, r := range records {
		t, err := s.fromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("tunnel %q: %w", r.Name, err)
		}
		tunnels = append(tunnels, t)
	}
	return tunnels, nil
}

// Save writes the full tunnel list, replacing the file atomically.
func (s *Store) Save(tunnels []*Tunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]record, 0, len(tunnels))
	for _, t := range tunnels {
		records = append(records, toRecord(t))
	}

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to serialize tunnels: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create tunnels directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write tunnels file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace tunnels file: %w", err)
	}
	return nil
}

// PutKey stores the tunnel's private key in the credential store.
func (s *Store) PutKey(t *Tunnel) error {
	cfg := t.Config()
	if cfg == nil || cfg.Interface.PrivateKey.IsZero() {
		return nil
	}
	return s.creds.Store(t.ID(), cfg.Interface.PrivateKey.String())
}

// Forget deletes the tunnel's private key.
func (s *Store) Forget(t *Tunnel) error {
	return s.creds.Delete(t.ID())
}

func toRecord(t *Tunnel) record {
	r := record{
		ID:       t.ID(),
		Name:     t.Name(),
		Created:  t.Created(),
		LastUsed: t.LastUsed(),
	}
	cfg := t.Config()
	if cfg == nil {
		return r
	}

	r.Interface = interfaceRecord{
		PublicKey:  cfg.Interface.PrivateKey.PublicKey().String(),
		Addresses:  prefixStrings(cfg.Interface.Addresses),
		DNS:        cfg.Interface.DNS,
		ListenPort: cfg.Interface.ListenPort,
		MTU:        cfg.Interface.MTU,
	}
	for _, p := range cfg.Peers {
		r.Peers = append(r.Peers, peerRecord{
			PublicKey:           p.PublicKey.String(),
			PresharedKey:        p.PresharedKey.String(),
			Endpoint:            p.Endpoint,
			AllowedIPs:          prefixStrings(p.AllowedIPs),
			PersistentKeepalive: p.PersistentKeepalive,
		})
	}
	return r
}

func (s *Store) fromRecord(r record) (*Tunnel, error) {
	cfg := &Config{
		Interface: InterfaceConfig{
			DNS:        r.Interface.DNS,
			ListenPort: r.Interface.ListenPort,
			MTU:        r.Interface.MTU,
		},
	}

	var err error
	if cfg.Interface.Addresses, err = parseStrings(r.Interface.Addresses); err != nil {
		return nil, err
	}

	secret, err := s.creds.Get(r.ID)
	switch {
	case err == nil:
		if cfg.Interface.PrivateKey, err = ParseKey(secret); err != nil {
			return nil, err
		}
	case errors.Is(err, common.ErrCredentialsNotFound):
		common.LogWarn("No private key stored for tunnel %s", r.Name)
	default:
		return nil, err
	}

	for _, pr := range r.Peers {
		p := PeerConfig{
			Endpoint:            pr.Endpoint,
			PersistentKeepalive: pr.PersistentKeepalive,
		}
		if p.PublicKey, err = ParseKey(pr.PublicKey); err != nil {
			return nil, err
		}
		if pr.PresharedKey != "" {
			if p.PresharedKey, err = ParseKey(pr.PresharedKey); err != nil {
				return nil, err
			}
		}
		if p.AllowedIPs, err = parseStrings(pr.AllowedIPs); err != nil {
			return nil, err
		}
		cfg.Peers = append(cfg.Peers, p)
	}

	return &Tunnel{
		id:       r.ID,
		created:  r.Created,
		name:     r.Name,
		config:   cfg,
		lastUsed: r.LastUsed,
	}, nil
}

func prefixStrings(ps []netip.Prefix) []string {
	if len(ps) == 0 {
		return nil
	}
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}

func parseStrings(ss []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, s := range ss {
		p, err := parsePrefix(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
