package domainverify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExchanger struct {
	resp *dns.Msg
	err  error

	gotName string
	gotAddr string
}

func (f *fakeExchanger) ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	f.gotName = m.Question[0].Name
	f.gotAddr = addr
	return f.resp, 0, f.err
}

func txtResponse(rcode int, records ...[]string) *dns.Msg {
	resp := new(dns.Msg)
	resp.Rcode = rcode
	for _, txt := range records {
		resp.Answer = append(resp.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeTXT, Class: dns.ClassINET},
			Txt: txt,
		})
	}
	return resp
}

func TestVerifyTXTFound(t *testing.T) {
	fake := &fakeExchanger{resp: txtResponse(dns.RcodeSuccess,
		[]string{"v=spf1 -all"},
		[]string{"site-verification=", "token-abc123"},
	)}
	v := New("8.8.8.8:53", testLogger()).WithExchanger(fake)

	ok, err := v.VerifyTXT(context.Background(), "example.com", "token-abc123")
	require.NoError(t, err)
	assert.True(t, ok)

	// The question is the FQDN form, sent to the configured resolver.
	assert.Equal(t, "example.com.", fake.gotName)
	assert.Equal(t, "8.8.8.8:53", fake.gotAddr)
}

func TestVerifyTXTNotFound(t *testing.T) {
	fake := &fakeExchanger{resp: txtResponse(dns.RcodeSuccess, []string{"v=spf1 -all"})}
	v := New("8.8.8.8:53", testLogger()).WithExchanger(fake)

	ok, err := v.VerifyTXT(context.Background(), "example.com", "token-abc123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyTXTNoAnswers(t *testing.T) {
	fake := &fakeExchanger{resp: txtResponse(dns.RcodeSuccess)}
	v := New("8.8.8.8:53", testLogger()).WithExchanger(fake)

	ok, err := v.VerifyTXT(context.Background(), "example.com", "token-abc123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyTXTServerFailure(t *testing.T) {
	fake := &fakeExchanger{resp: txtResponse(dns.RcodeServerFailure)}
	v := New("8.8.8.8:53", testLogger()).WithExchanger(fake)

	_, err := v.VerifyTXT(context.Background(), "example.com", "token-abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), dns.RcodeToString[dns.RcodeServerFailure])
}

func TestVerifyTXTExchangeError(t *testing.T) {
	fake := &fakeExchanger{err: errors.New("i/o timeout")}
	v := New("8.8.8.8:53", testLogger()).WithExchanger(fake)

	_, err := v.VerifyTXT(context.Background(), "example.com", "token-abc123")
	require.Error(t, err)
}
