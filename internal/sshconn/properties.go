// SPDX-License-Identifier: MPL-2.0

package sshconn

import (
	"strconv"

	"github.com/invowk/batchsh/internal/props"
)

// Property names understood by every SSH-backed component.
const (
	// Prefix is shared by all SSH properties.
	Prefix = "batchsh.ssh."

	StrictHostKeyCheckingProperty = Prefix + "strict.host.key.checking"
	KnownHostsProperty            = Prefix + "known.hosts"
	ConnectionTimeoutProperty     = Prefix + "connection.timeout"
)

// Descriptions returns the descriptors of the connection properties.
func Descriptions() []props.Description {
	return []props.Description{
		{
			Name:    StrictHostKeyCheckingProperty,
			Type:    props.TypeBoolean,
			Default: "true",
			Doc:     "Verify the remote host key against the known_hosts file.",
		},
		{
			Name: KnownHostsProperty,
			Type: props.TypeString,
			Doc:  "known_hosts file used for host key verification. Defaults to ~/.ssh/known_hosts.",
		},
		{
			Name:    ConnectionTimeoutProperty,
			Type:    props.TypeNatural,
			Default: strconv.FormatInt(DefaultTimeout.Milliseconds(), 10),
			Doc:     "Connection setup timeout in milliseconds.",
		},
	}
}

// ParseOptions reads the connection properties out of values. Keys that are
// not connection properties are ignored so callers can pass a whole
// "batchsh.ssh." subset.
func ParseOptions(values map[string]string) (Options, error) {
	descs := Descriptions()
	known := make(map[string]string, len(descs))
	for _, d := range descs {
		if v, ok := values[d.Name]; ok {
			known[d.Name] = v
		}
	}

	p, err := props.New(descs, known)
	if err != nil {
		return Options{}, err
	}
	return OptionsFrom(p)
}

// OptionsFrom reads the connection properties out of a validated bag that
// includes Descriptions.
func OptionsFrom(p *props.Properties) (Options, error) {
	strict, err := p.Bool(StrictHostKeyCheckingProperty)
	if err != nil {
		return Options{}, err
	}
	knownHosts, err := p.String(KnownHostsProperty)
	if err != nil {
		return Options{}, err
	}
	timeout, err := p.Millis(ConnectionTimeoutProperty)
	if err != nil {
		return Options{}, err
	}
	return Options{
		StrictHostKeyChecking: strict,
		KnownHosts:            knownHosts,
		Timeout:               timeout,
	}, nil
}
