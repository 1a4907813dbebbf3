package lifecycle

import (
	"errors"
	"fmt"
	"net"

	"github.com/stackhost-io/stackhost/internal/config"
)

// ErrPoolExhausted is returned when no free address or port remains.
var ErrPoolExhausted = errors.New("allocation pool exhausted")

// Allocator hands out container IP addresses and host SSH ports from the
// configured pools, skipping everything still held by live containers.
type Allocator struct {
	network *net.IPNet
	portMin int
	portMax int
}

// NewAllocator parses the network configuration into an allocator.
func NewAllocator(cfg *config.NetworkConfig) (*Allocator, error) {
	_, network, err := net.ParseCIDR(cfg.IPRangeCIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid ip range %q: %w", cfg.IPRangeCIDR, err)
	}
	if network.IP.To4() == nil {
		return nil, fmt.Errorf("ip range %q must be IPv4", cfg.IPRangeCIDR)
	}
	if cfg.SSHPortMin > cfg.SSHPortMax {
		return nil, fmt.Errorf("ssh port range %d..%d is empty", cfg.SSHPortMin, cfg.SSHPortMax)
	}
	return &Allocator{
		network: network,
		portMin: cfg.SSHPortMin,
		portMax: cfg.SSHPortMax,
	}, nil
}

// AllocateIP returns the lowest free host address in the pool. The network
// and broadcast addresses are never handed out.
func (a *Allocator) AllocateIP(used map[string]bool) (string, error) {
	ip := make(net.IP, len(a.network.IP.To4()))
	copy(ip, a.network.IP.To4())

	for {
		incrementIP(ip)
		if !a.network.Contains(ip) {
			return "", fmt.Errorf("%w: no free ip in %s", ErrPoolExhausted, a.network)
		}
		if isBroadcast(ip, a.network) {
			return "", fmt.Errorf("%w: no free ip in %s", ErrPoolExhausted, a.network)
		}
		if !used[ip.String()] {
			return ip.String(), nil
		}
	}
}

// AllocatePort returns the lowest free port in the SSH port range.
func (a *Allocator) AllocatePort(used map[int]bool) (int, error) {
	for port := a.portMin; port <= a.portMax; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: no free port in %d..%d", ErrPoolExhausted, a.portMin, a.portMax)
}

func incrementIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

func isBroadcast(ip net.IP, network *net.IPNet) bool {
	broadcast := make(net.IP, len(network.IP.To4()))
	for i := range broadcast {
		broadcast[i] = network.IP.To4()[i] | ^network.Mask[i]
	}
	return ip.Equal(broadcast)
}
