package tunnel

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/yllada/tunnelbar/common"
)

// Config is a wg-quick tunnel configuration.
type Config struct {
	Interface InterfaceConfig
	Peers     []PeerConfig
}

// InterfaceConfig is the [Interface] section.
type InterfaceConfig struct {
	PrivateKey Key
	Addresses  []netip.Prefix
	DNS        []string
	ListenPort int
	MTU        int
}

// PeerConfig is one [Peer] section.
type PeerConfig struct {
	PublicKey           Key
	PresharedKey        Key
	Endpoint            string
	AllowedIPs          []netip.Prefix
	PersistentKeepalive int
}

// AllowedIPs returns the allowed IPs of all peers, in peer order.
func (c *Config) AllowedIPs() []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, p := range c.Peers {
		for _, ip := range p.AllowedIPs {
			out = append(out, ip.String())
		}
	}
	return out
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{Interface: c.Interface}
	out.Interface.Addresses = append([]netip.Prefix(nil), c.Interface.Addresses...)
	out.Interface.DNS = append([]string(nil), c.Interface.DNS...)
	for _, p := range c.Peers {
		p.AllowedIPs = append([]netip.Prefix(nil), p.AllowedIPs...)
		out.Peers = append(out.Peers, p)
	}
	return out
}

// Validate checks the fields wg-quick needs.
func (c *Config) Validate() error {
	if c.Interface.PrivateKey.IsZero() {
		return fmt.Errorf("%w: missing PrivateKey", common.ErrInvalidConfig)
	}
	for i, p := range c.Peers {
		if p.PublicKey.IsZero() {
			return fmt.Errorf("%w: peer %d has no PublicKey", common.ErrInvalidConfig, i+1)
		}
	}
	return nil
}

// ParseConfig reads a wg-quick configuration.
// Unknown keys are ignored so that wg-quick hooks (PostUp etc.) do not break imports.
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}
	var peer *PeerConfig
	section := ""

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			switch section {
			case "interface":
			case "peer":
				cfg.Peers = append(cfg.Peers, PeerConfig{})
				peer = &cfg.Peers[len(cfg.Peers)-1]
			default:
				return nil, fmt.Errorf("%w: line %d: unknown section %q", common.ErrInvalidConfig, lineNo, section)
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected key = value", common.ErrInvalidConfig, lineNo)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		var err error
		switch section {
		case "interface":
			err = cfg.Interface.set(key, value)
		case "peer":
			err = peer.set(key, value)
		default:
			err = fmt.Errorf("%w: key outside of a section", common.ErrInvalidConfig)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (ic *InterfaceConfig) set(key, value string) error {
	var err error
	switch key {
	case "privatekey":
		ic.PrivateKey, err = ParseKey(value)
	case "address":
		ic.Addresses, err = parsePrefixes(value)
	case "dns":
		ic.DNS = splitList(value)
	case "listenport":
		ic.ListenPort, err = parseInt(value, 0, 65535)
	case "mtu":
		ic.MTU, err = parseInt(value, 576, 65535)
	}
	return err
}

func (p *PeerConfig) set(key, value string) error {
	var err error
	switch key {
	case "publickey":
		p.PublicKey, err = ParseKey(value)
	case "presharedkey":
		p.PresharedKey, err = ParseKey(value)
	case "endpoint":
		p.Endpoint = value
	case "allowedips":
		p.AllowedIPs, err = parsePrefixes(value)
	case "persistentkeepalive":
		if value == "off" {
			p.PersistentKeepalive = 0
			return nil
		}
		p.PersistentKeepalive, err = parseInt(value, 0, 65535)
	}
	return err
}

func splitList(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parsePrefixes accepts CIDR prefixes and bare addresses (treated as host routes).
func parsePrefixes(value string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, s := range splitList(value) {
		p, err := parsePrefix(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: bad prefix %q", common.ErrInvalidConfig, s)
		}
		return p, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: bad address %q", common.ErrInvalidConfig, s)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func parseInt(value string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %q out of range %d-%d", common.ErrInvalidConfig, value, lo, hi)
	}
	return n, nil
}

func joinPrefixes(ps []netip.Prefix) string {
	s := make([]string, len(ps))
	for i, p := range ps {
		s[i] = p.String()
	}
	return strings.Join(s, ", ")
}

// String renders the configuration in wg-quick format.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	if !c.Interface.PrivateKey.IsZero() {
		fmt.Fprintf(&b, "PrivateKey = %s\n", c.Interface.PrivateKey)
	}
	if len(c.Interface.Addresses) > 0 {
		fmt.Fprintf(&b, "Address = %s\n", joinPrefixes(c.Interface.Addresses))
	}
	if len(c.Interface.DNS) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(c.Interface.DNS, ", "))
	}
	if c.Interface.ListenPort > 0 {
		fmt.Fprintf(&b, "ListenPort = %d\n", c.Interface.ListenPort)
	}
	if c.Interface.MTU > 0 {
		fmt.Fprintf(&b, "MTU = %d\n", c.Interface.MTU)
	}

	for _, p := range c.Peers {
		b.WriteString("\n[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", p.PublicKey)
		if !p.PresharedKey.IsZero() {
			fmt.Fprintf(&b, "PresharedKey = %s\n", p.PresharedKey)
		}
		if len(p.AllowedIPs) > 0 {
			fmt.Fprintf(&b, "AllowedIPs = %s\n", joinPrefixes(p.AllowedIPs))
		}
		if p.Endpoint != "" {
			fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
		}
		if p.PersistentKeepalive > 0 {
			fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.PersistentKeepalive)
		}
	}
	return b.String()
}
