package gateway

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nerrad567/knx-gateway/internal/knx/routing"
)

// Mode selects which KNXnet/IP client backs the gateway.
type Mode int

// Transport modes, chosen from the gateway.connection scheme.
const (
	ModeTunnel Mode = iota
	ModeRouting
)

// parseConnection splits gateway.connection ("tunnel://host:port" or
// "routing://[interface]:port") into a mode and its transport target.
func parseConnection(connection string) (Mode, *net.UDPAddr, error) {
	switch {
	case strings.HasPrefix(connection, "tunnel://"):
		target := strings.TrimPrefix(connection, "tunnel://")
		addr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %s: %w", ErrInvalidConnection, connection, err)
		}
		return ModeTunnel, addr, nil

	case strings.HasPrefix(connection, "routing://"):
		target := strings.TrimPrefix(connection, "routing://")
		port := routing.DefaultPort
		if target != "" {
			_, portStr, err := net.SplitHostPort(target)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: %s: %w", ErrInvalidConnection, connection, err)
			}
			p, err := strconv.Atoi(portStr)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: %s: invalid port %q", ErrInvalidConnection, connection, portStr)
			}
			port = p
		}
		return ModeRouting, &net.UDPAddr{Port: port}, nil

	default:
		return 0, nil, fmt.Errorf("%w: %s", ErrInvalidConnection, connection)
	}
}
