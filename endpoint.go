package asio

import (
	"net"
	"strconv"
)

// parseEndpoint parses a resolver-returned "host:port" string (or a local
// path prefixed with "local:") into an Endpoint.
func parseEndpoint(s string) (Endpoint, error) {
	if len(s) > len("local:") && s[:len("local:")] == "local:" {
		return Endpoint{Kind: EndpointLocal, Path: s[len("local:"):]}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, newErr(KindInvalid, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, newErr(KindInvalid, err)
	}
	kind := EndpointIPv4
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		kind = EndpointIPv6
	}
	return Endpoint{Kind: kind, Host: host, Port: uint16(port)}, nil
}
