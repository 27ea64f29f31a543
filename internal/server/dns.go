// Package server implements the DNS capture listener, the HTTP capture
// listener and the owner-facing management API.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/oobits/snare/internal/db"
	"github.com/oobits/snare/internal/events"
	"github.com/oobits/snare/internal/geo"
	"github.com/oobits/snare/internal/logging"
	"github.com/oobits/snare/internal/models"
	"github.com/oobits/snare/internal/subdomain"
)

// TXTBanner is the fixed answer for TXT queries in the wildcard zone.
const TXTBanner = "snare oob listener"

const answerTTL = 300

// DNSServer answers UDP queries for the wildcard zone and records an
// interaction for every query that resolves to a live subdomain.
type DNSServer struct {
	DB        *sql.DB
	Directory *subdomain.Directory
	Bus       events.Bus
	Geo       geo.Locator
	Domain    string
	ServerIP  string // IPv4 returned for A queries
	Logger    *zap.Logger
	Now       func() time.Time

	udpServer *dns.Server
}

// Start begins listening for DNS queries on the given UDP port.
func (s *DNSServer) Start(port int) error {
	if s.Now == nil {
		s.Now = time.Now
	}

	s.udpServer = &dns.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Net:     "udp",
		Handler: dns.HandlerFunc(s.handleDNS),
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("starting dns server", logging.Port(port), logging.Zone(s.Domain))
		if err := s.udpServer.ListenAndServe(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("DNS server failed to start: %w", err)
		}
		return nil
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown gracefully stops the DNS server.
func (s *DNSServer) Shutdown(ctx context.Context) {
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			s.Logger.Warn("dns shutdown error", zap.Error(err))
		}
	}
}

func (s *DNSServer) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	remoteIP := remoteIPOf(w.RemoteAddr())

	for _, q := range r.Question {
		qname := strings.ToLower(strings.TrimSuffix(q.Name, "."))

		if label := ExtractLabel(qname, s.Domain); label != "" {
			s.record(label, qname, q.Qtype, remoteIP)
		}

		// Answer synthesis is independent of resolution: the wildcard
		// zone never returns NXDOMAIN, so scanners cannot distinguish a
		// live label from a dead one.
		switch q.Qtype {
		case dns.TypeA:
			if ip := net.ParseIP(s.ServerIP); ip != nil {
				m.Answer = append(m.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: answerTTL},
					A:   ip,
				})
			} else {
				m.Rcode = dns.RcodeServerFailure
			}
		case dns.TypeTXT:
			m.Answer = append(m.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: answerTTL},
				Txt: []string{TXTBanner},
			})
		default:
			// AAAA and everything else: NOERROR with no answer records.
		}
	}

	if err := w.WriteMsg(m); err != nil {
		s.Logger.Debug("failed to write DNS response", zap.Error(err))
	}
}

// record logs a DNS interaction for a resolved subdomain. Failures are
// absorbed: the caller sends the synthetic answer either way.
func (s *DNSServer) record(label, qname string, qtype uint16, remoteIP string) {
	sub, err := s.Directory.Resolve(label)
	if err != nil {
		if err != subdomain.ErrNotFound {
			s.Logger.Error("resolve subdomain failed", logging.Label(label), zap.Error(err))
		} else {
			s.Logger.Debug("query for unknown subdomain", logging.Label(label), logging.QName(qname))
		}
		return
	}

	qtypeStr := qtypeString(qtype)

	interaction := &models.Interaction{
		SubdomainID: sub.ID,
		OwnerID:     sub.OwnerID,
		Kind:        models.KindDNS,
		OccurredAt:  s.Now().UnixMilli(),
		RemoteIP:    remoteIP,
		Location:    s.Geo.Lookup(remoteIP),
		Summary:     fmt.Sprintf("%s %s", qtypeStr, qname),
		DNS: &models.DNSDetail{
			QName:  qname,
			QType:  qtypeStr,
			Answer: s.syntheticAnswer(qtype),
		},
	}

	if _, err := db.CreateInteraction(s.DB, interaction); err != nil {
		s.Logger.Error("create dns interaction failed", logging.Label(label), zap.Error(err))
		return
	}
	if err := s.Directory.Touch(sub.ID); err != nil {
		s.Logger.Warn("touch subdomain failed", logging.SubdomainID(sub.ID), zap.Error(err))
	}

	s.Bus.Publish(sub.OwnerID, events.Event{
		Kind:        models.KindDNS,
		Label:       sub.Label,
		Interaction: *interaction,
	})

	s.Logger.Debug("dns interaction recorded",
		logging.Label(label), logging.QName(qname), logging.QType(qtypeStr), logging.RemoteIP(remoteIP))
}

func (s *DNSServer) syntheticAnswer(qtype uint16) string {
	switch qtype {
	case dns.TypeA:
		return s.ServerIP
	case dns.TypeTXT:
		return TXTBanner
	default:
		return ""
	}
}

func qtypeString(qtype uint16) string {
	if name, ok := dns.TypeToString[qtype]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", qtype)
}

// ExtractLabel returns the candidate subdomain label for a queried name:
// the first label under the base zone, or "" for the zone itself and for
// unrelated names. Both inputs may carry a trailing root dot.
func ExtractLabel(qname, zone string) string {
	qname = strings.ToLower(strings.TrimSuffix(qname, "."))
	zone = strings.ToLower(strings.TrimSuffix(zone, "."))
	if zone == "" || qname == zone {
		return ""
	}
	if !strings.HasSuffix(qname, "."+zone) {
		return ""
	}
	rest := strings.TrimSuffix(qname, "."+zone)
	if rest == "" {
		return ""
	}
	return strings.Split(rest, ".")[0]
}

func remoteIPOf(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String()
	case *net.TCPAddr:
		return a.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}
