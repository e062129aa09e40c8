package fetchers

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// PortText sends a fixed payload to a port and extracts the first line of
// the answer that matches a pattern.
type PortText struct {
	base
	cfg    *config.ScannerConfig
	dial   pinger.DialFunc
	logger *logging.Logger
	binder *scanning.ResourceBinder

	defaultPort   uint16
	payload       string
	match         *regexp.Regexp
	scanOpenPorts bool
	format        func(port uint16, text string) string
}

func newPortText(id scanning.FetcherID, d Deps, port uint16, payload, pattern string) *PortText {
	d = d.withDefaults()
	return &PortText{
		base:        base{id: id},
		cfg:         d.Config,
		dial:        d.Dial,
		logger:      d.Logger.WithComponent("fetcher." + id.String()),
		binder:      scanning.NewResourceBinder(),
		defaultPort: port,
		payload:     payload,
		match:       regexp.MustCompile(pattern),
		format:      func(_ uint16, text string) string { return text },
	}
}

// NewWebDetect reports the Server header of a web server.
func NewWebDetect(d Deps) *PortText {
	return newPortText(scanning.FetcherWebDetect, d, 80,
		"HEAD /robots.txt HTTP/1.0\r\n\r\n", `^[Ss]erver:\s+(.*)$`)
}

// NewHTTPSender reports the Date header of a web server.
func NewHTTPSender(d Deps) *PortText {
	return newPortText(scanning.FetcherHTTPSender, d, 80,
		"HEAD / HTTP/1.0\r\n\r\n", `Date: (.*)$`)
}

// NewHTTPProxy detects open HTTP proxies on the open ports of a host.
func NewHTTPProxy(d Deps) *PortText {
	f := newPortText(scanning.FetcherHTTPProxy, d, 3128,
		"HEAD http://www.google.com HTTP/1.0\r\n\r\n", `^(HTTP/[\d\.]+ [23].*)$`)
	f.scanOpenPorts = true
	f.format = func(port uint16, text string) string {
		return fmt.Sprintf("%d: %s", port, text)
	}
	return f
}

// Init accepts sockets into the binder again after a previous Cleanup.
func (f *PortText) Init() error {
	f.binder.Reopen()
	return nil
}

// Cleanup closes connections still waiting for an answer.
func (f *PortText) Cleanup() {
	f.binder.CloseAll()
}

// portsFor returns the ports to try, in order.
func (f *PortText) portsFor(subject *scanning.Subject) []uint16 {
	if f.scanOpenPorts {
		if v, ok := subject.Parameter(scanning.ParameterOpenPorts); ok {
			open, _ := v.([]uint16)
			out := append([]uint16{}, open...)
			if !slices.Contains(out, f.defaultPort) {
				out = append(out, f.defaultPort)
			}
			slices.Sort(out)
			return out
		}
	}
	if requested := subject.RequestedPorts(); len(requested) > 0 {
		return requested
	}
	return []uint16{f.defaultPort}
}

// Scan returns the first matching text, or nil.
func (f *PortText) Scan(ctx context.Context, subject *scanning.Subject) any {
	timeout := subject.AdaptedPortTimeout()
	for _, port := range f.portsFor(subject) {
		if ctx.Err() != nil {
			return nil
		}
		text, ok := f.exchange(ctx, subject, port, timeout)
		if ok {
			subject.SetResultType(scanning.ResultWithPorts)
			return f.format(port, text)
		}
	}
	return nil
}

func (f *PortText) exchange(ctx context.Context, subject *scanning.Subject, port uint16, timeout time.Duration) (string, bool) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := f.dial(dctx, "tcp", net.JoinHostPort(subject.Addr().String(), strconv.Itoa(int(port))))
	cancel()
	if err != nil {
		return "", false
	}
	release := f.binder.Bind(ctx, subject.String(), conn)
	defer release()

	_ = conn.SetDeadline(time.Now().Add(f.cfg.PortTimeout * 2))
	if _, err := conn.Write([]byte(f.payload)); err != nil {
		return "", false
	}

	lines := bufio.NewScanner(conn)
	for lines.Scan() {
		m := f.match.FindStringSubmatch(lines.Text())
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
		return strconv.Itoa(int(port)), true
	}
	if err := lines.Err(); err != nil {
		f.logger.WithTarget(subject.String()).Debug("Banner read failed", "port", port, "error", err)
	}
	return "", false
}
