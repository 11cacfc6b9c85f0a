package sampler

import (
	"context"
	"log/slog"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/psaab/nicqos/pkg/classify"
)

// TCPProber measures the TCP handshake time to Addr. Probe packets carry
// the DSCP of the highest priority level, so they take the same queue as
// game traffic.
type TCPProber struct {
	Addr string
}

func (p TCPProber) Probe(ctx context.Context) (time.Duration, error) {
	tos := classify.PriorityHighest.TOS()
	d := net.Dialer{
		Control: func(network, _ string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				if network == "tcp6" {
					serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
				} else {
					serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
				}
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	defer conn.Close()

	if laddr, ok := conn.LocalAddr().(*net.TCPAddr); ok && laddr.IP.To4() != nil {
		if got, err := ipv4.NewConn(conn).TOS(); err == nil && got != tos {
			slog.Debug("probe TOS not applied", "want", tos, "got", got)
		}
	}
	return rtt, nil
}
