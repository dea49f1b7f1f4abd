package http

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address families reported for listening ports.
const (
	FamilyIPv4 = 1
	FamilyIPv6 = 3
)

// ListeningPort is one entry of the listening_ports option. Port holds the
// bound port once the engine runs, so a configured 0 reports the ephemeral
// port.
type ListeningPort struct {
	Host     string
	Port     int
	Family   int
	TLS      bool
	Redirect bool
}

func (lp ListeningPort) network() string {
	if lp.Family == FamilyIPv6 {
		return "tcp6"
	}
	return "tcp4"
}

func (lp ListeningPort) address() string {
	return net.JoinHostPort(lp.Host, strconv.Itoa(lp.Port))
}

func (lp ListeningPort) String() string {
	s := lp.address()
	switch {
	case lp.TLS:
		s += "s"
	case lp.Redirect:
		s += "r"
	}
	return s
}

// ParsePorts parses a comma separated list of [ip:]port[s|r] entries. IPv6
// addresses are written in brackets, as in [::]:8080.
func ParsePorts(spec string) ([]ListeningPort, error) {
	var ports []ListeningPort
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		port, err := parsePort(entry)
		if err != nil {
			return nil, err
		}
		ports = append(ports, port)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("http: no listening ports in %q", spec)
	}
	return ports, nil
}

func parsePort(entry string) (ListeningPort, error) {
	lp := ListeningPort{Family: FamilyIPv4, Host: "0.0.0.0"}

	switch entry[len(entry)-1] {
	case 's':
		lp.TLS = true
		entry = entry[:len(entry)-1]
	case 'r':
		lp.Redirect = true
		entry = entry[:len(entry)-1]
	}

	portStr := entry
	if strings.HasPrefix(entry, "[") {
		end := strings.Index(entry, "]:")
		if end < 0 {
			return lp, fmt.Errorf("http: invalid listening port %q", entry)
		}
		lp.Host = entry[1:end]
		lp.Family = FamilyIPv6
		portStr = entry[end+2:]
	} else if i := strings.LastIndexByte(entry, ':'); i >= 0 {
		lp.Host = entry[:i]
		portStr = entry[i+1:]
	}

	ip := net.ParseIP(lp.Host)
	if ip == nil {
		return lp, fmt.Errorf("http: invalid listening address %q", lp.Host)
	}
	if lp.Family == FamilyIPv4 && ip.To4() == nil {
		return lp, fmt.Errorf("http: IPv6 address %q must be written in brackets", lp.Host)
	}
	if lp.Family == FamilyIPv6 && ip.To4() != nil && !strings.Contains(lp.Host, ":") {
		return lp, fmt.Errorf("http: invalid IPv6 address %q", lp.Host)
	}

	n, err := atoi([]byte(portStr))
	if err != nil || portStr == "" || n > 65535 {
		return lp, fmt.Errorf("http: invalid port number %q", portStr)
	}
	lp.Port = n

	return lp, nil
}
