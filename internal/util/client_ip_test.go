package util

import (
	"net"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"172.16.0.0/12", "192.0.2.1", "2001:db8::1"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xrip       string
		proxies    *TrustedProxies
		want       string
	}{
		{
			name:       "nil proxies never read forwarding headers",
			remoteAddr: "198.51.100.20:443",
			xff:        "203.0.113.9",
			xrip:       "203.0.113.10",
			want:       "198.51.100.20",
		},
		{
			name:       "untrusted peer cannot spoof x-forwarded-for",
			remoteAddr: "198.51.100.20:443",
			xff:        "203.0.113.9",
			proxies:    proxies,
			want:       "198.51.100.20",
		},
		{
			name:       "cidr-trusted peer yields rightmost untrusted hop",
			remoteAddr: "172.20.1.1:5000",
			xff:        "203.0.113.1, 203.0.113.9, 172.16.4.4",
			proxies:    proxies,
			want:       "203.0.113.9",
		},
		{
			name:       "bare ipv4 entry trusts exactly that address",
			remoteAddr: "192.0.2.1:80",
			xff:        "203.0.113.9",
			proxies:    proxies,
			want:       "203.0.113.9",
		},
		{
			name:       "bare ipv4 entry does not widen to its neighbour",
			remoteAddr: "192.0.2.2:80",
			xff:        "203.0.113.9",
			proxies:    proxies,
			want:       "192.0.2.2",
		},
		{
			name:       "bare ipv6 entry is a /128",
			remoteAddr: "[2001:db8::1]:8443",
			xff:        "2001:db8:ffff::7",
			proxies:    proxies,
			want:       "2001:db8:ffff::7",
		},
		{
			name:       "ipv6 neighbour of a bare entry is untrusted",
			remoteAddr: "[2001:db8::2]:8443",
			xff:        "203.0.113.9",
			proxies:    proxies,
			want:       "2001:db8::2",
		},
		{
			name:       "x-real-ip used only when x-forwarded-for has no address",
			remoteAddr: "172.16.0.9:5000",
			xff:        "garbage, also-garbage",
			xrip:       "203.0.113.50",
			proxies:    proxies,
			want:       "203.0.113.50",
		},
		{
			name:       "trusted peer without headers is itself the client",
			remoteAddr: "172.16.0.9:5000",
			proxies:    proxies,
			want:       "172.16.0.9",
		},
		{
			name:       "every hop trusted falls back to the first",
			remoteAddr: "172.16.0.9:5000",
			xff:        "172.16.0.1, 192.0.2.1",
			proxies:    proxies,
			want:       "172.16.0.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "198.51.100.30",
			proxies:    proxies,
			want:       "198.51.100.30",
		},
		{
			name:       "unparseable remote addr is returned raw",
			remoteAddr: " pipe@local ",
			xff:        "203.0.113.9",
			proxies:    proxies,
			want:       "pipe@local",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://mediawish.test/api/wishes", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := tc.proxies.ClientIP(req); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		wantErr bool
		wantNil bool
		inside  string
		outside string
	}{
		{name: "ipv4 cidr", entries: []string{"172.16.0.0/12"}, inside: "172.31.255.255", outside: "172.32.0.0"},
		{name: "bare ipv4 becomes /32", entries: []string{" 192.0.2.1 "}, inside: "192.0.2.1", outside: "192.0.2.0"},
		{name: "bare ipv6 becomes /128", entries: []string{"2001:db8::1"}, inside: "2001:db8::1", outside: "2001:db8::"},
		{name: "ipv6 cidr", entries: []string{"2001:db8::/32"}, inside: "2001:db8:1::1", outside: "2001:db9::1"},
		{name: "blank entries yield nil", entries: []string{"", "  "}, wantNil: true},
		{name: "hostname is rejected", entries: []string{"proxy.internal"}, wantErr: true},
		{name: "mask out of range", entries: []string{"172.16.0.0/40"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			proxies, err := NewTrustedProxies(tc.entries)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %v", tc.entries)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantNil {
				if proxies != nil {
					t.Fatalf("expected nil proxies, got %+v", proxies)
				}
				return
			}
			if !proxies.Contains(net.ParseIP(tc.inside)) {
				t.Fatalf("expected %s to be trusted", tc.inside)
			}
			if proxies.Contains(net.ParseIP(tc.outside)) {
				t.Fatalf("expected %s to be untrusted", tc.outside)
			}
		})
	}
}
