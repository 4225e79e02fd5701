// Package domainverify checks that a domain's verification content is
// actually published, by querying its DNS TXT records against a configured
// resolver. The stored DomainVerification record proves ownership to the
// directory provider; this check tells an admin whether the record is live.
package domainverify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Exchanger abstracts the DNS round trip so tests can fake responses.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Verifier resolves TXT records for domain ownership checks.
type Verifier struct {
	resolver string
	client   Exchanger
	log      *slog.Logger
}

// New creates a verifier querying the given resolver address (host:port).
func New(resolver string, log *slog.Logger) *Verifier {
	return &Verifier{
		resolver: resolver,
		client:   &dns.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

// WithExchanger replaces the DNS client, for testing.
func (v *Verifier) WithExchanger(e Exchanger) *Verifier {
	return &Verifier{resolver: v.resolver, client: e, log: v.log}
}

// VerifyTXT reports whether any TXT record of the domain contains the
// expected verification content.
func (v *Verifier) VerifyTXT(ctx context.Context, domain, content string) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)

	resp, _, err := v.client.ExchangeContext(ctx, m, v.resolver)
	if err != nil {
		return false, fmt.Errorf("TXT lookup for %s failed: %w", domain, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return false, fmt.Errorf("TXT lookup for %s returned %s", domain, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		if strings.Contains(strings.Join(txt.Txt, ""), content) {
			return true, nil
		}
	}

	v.log.Debug("Verification content not found in TXT records", "domain", domain)
	return false, nil
}
