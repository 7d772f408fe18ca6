package preflight

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun"
	"github.com/pion/webrtc/v4"
)

// Result is the outcome of probing a single STUN url.
type Result struct {
	URL     string
	Address string
	RTT     time.Duration
	Err     error
}

func (r Result) OK() bool { return r.Err == nil }

// stunAddress turns "stun:host:port" into "host:port", adding the default port.
func stunAddress(url string) (string, error) {
	addr, ok := strings.CutPrefix(url, "stun:")
	if !ok {
		if addr, ok = strings.CutPrefix(url, "stuns:"); !ok {
			return "", fmt.Errorf("unsupported scheme in %q", url)
		}
	}
	addr, _, _ = strings.Cut(addr, "?")
	if addr == "" {
		return "", fmt.Errorf("empty address in %q", url)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "3478")
	}
	return addr, nil
}

// ProbeSTUN sends a binding request to url and waits for a success response.
func ProbeSTUN(ctx context.Context, url string, timeout time.Duration) Result {
	res := Result{URL: url}
	addr, err := stunAddress(url)
	if err != nil {
		res.Err = err
		return res
	}
	res.Address = addr

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		res.Err = err
		return res
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	m := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	start := time.Now()
	if _, err = conn.Write(m.Raw); err != nil {
		res.Err = err
		return res
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		res.Err = err
		return res
	}
	res.RTT = time.Since(start)

	var response stun.Message
	response.Raw = buf[:n]
	if err = response.Decode(); err != nil {
		res.Err = err
		return res
	}
	if response.Type != stun.BindingSuccess {
		res.Err = fmt.Errorf("unexpected response %s", response.Type)
	}
	return res
}

// ProbeAll probes every url of every server in order.
func ProbeAll(ctx context.Context, servers []webrtc.ICEServer, timeout time.Duration) []Result {
	var results []Result
	for _, server := range servers {
		for _, url := range server.URLs {
			results = append(results, ProbeSTUN(ctx, url, timeout))
		}
	}
	return results
}
