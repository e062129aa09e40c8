package fetchers

import (
	"context"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

const (
	snmpPort = 161
	// sysName.0 from SNMPv2-MIB
	oidSysName = "1.3.6.1.2.1.1.5.0"
)

// SNMPName reads sysName.0 over SNMP v2c.
type SNMPName struct {
	base
	cfg    *config.ScannerConfig
	logger *logging.Logger
	port   uint16
}

// NewSNMPName creates the SNMPName fetcher.
func NewSNMPName(d Deps) *SNMPName {
	d = d.withDefaults()
	return &SNMPName{
		base:   base{id: scanning.FetcherSNMPName},
		cfg:    d.Config,
		logger: d.Logger.WithComponent("fetcher.snmp"),
		port:   snmpPort,
	}
}

// Scan returns the system name, or nil.
func (f *SNMPName) Scan(ctx context.Context, subject *scanning.Subject) any {
	client := &gosnmp.GoSNMP{
		Target:    subject.Addr().String(),
		Port:      f.port,
		Community: f.cfg.SNMPCommunity,
		Version:   gosnmp.Version2c,
		Timeout:   subject.AdaptedPortTimeout(),
		Retries:   0,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil
	}
	defer client.Conn.Close()

	packet, err := client.Get([]string{oidSysName})
	if err != nil {
		f.logger.WithTarget(subject.String()).Debug("SNMP get failed", "error", err)
		return nil
	}
	for _, v := range packet.Variables {
		if v.Type != gosnmp.OctetString {
			continue
		}
		raw, ok := v.Value.([]byte)
		if !ok {
			continue
		}
		if name := strings.TrimSpace(string(raw)); name != "" {
			return name
		}
	}
	return nil
}
