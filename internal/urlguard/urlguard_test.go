package urlguard

import (
	"errors"
	"testing"
)

func TestCheck_Table(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"public https", "https://example.com/recipe", nil},
		{"public http with query", "http://cookpad.com/recipe/123?x=1", nil},
		{"public ip", "https://93.184.216.34/", nil},
		{"allowed port", "https://example.com:8443/a", nil},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data", ErrBlockedHost},
		{"localhost", "http://localhost:8080/", ErrBlockedHost},
		{"localhost subdomain", "http://api.localhost/", ErrBlockedHost},
		{"loopback v4", "http://127.0.0.1/", ErrBlockedHost},
		{"loopback range", "http://127.8.9.10/", ErrBlockedHost},
		{"loopback v6", "http://[::1]/", ErrBlockedHost},
		{"unspecified v6", "http://[::]/", ErrBlockedHost},
		{"private 10", "http://10.1.2.3/", ErrBlockedHost},
		{"private 172.16", "http://172.16.0.1/", ErrBlockedHost},
		{"private 172.31", "http://172.31.255.255/", ErrBlockedHost},
		{"public 172.32", "http://172.32.0.1/", nil},
		{"private 192.168", "http://192.168.0.10/", ErrBlockedHost},
		{"zero net", "http://0.0.0.0/", ErrBlockedHost},
		{"broadcast", "http://255.255.255.255/", ErrBlockedHost},
		{"link-local v6", "http://[fe80::1]/", ErrBlockedHost},
		{"unique-local v6", "http://[fd12:3456::1]/", ErrBlockedHost},
		{"multicast v6", "http://[ff02::1]/", ErrBlockedHost},
		{"mapped v4 loopback", "http://[::ffff:127.0.0.1]/", ErrBlockedHost},
		{"mapped v4 private", "http://[::ffff:10.0.0.1]/", ErrBlockedHost},
		{"decimal ip", "http://2130706433/", ErrBlockedHost},
		{"hex ip", "http://0x7f.0.0.1/", ErrBlockedHost},
		{"ssh port", "http://example.com:22/", ErrBlockedPort},
		{"postgres port", "https://example.com:5432/", ErrBlockedPort},
		{"redis port", "http://example.com:6379/", ErrBlockedPort},
		{"elasticsearch port", "http://example.com:9200/", ErrBlockedPort},
		{"file scheme", "file:///etc/passwd", ErrScheme},
		{"ftp scheme", "ftp://example.com/", ErrScheme},
		{"javascript scheme", "javascript:alert(1)", ErrScheme},
		{"no scheme", "example.com/path", ErrScheme},
		{"empty", "", ErrMalformed},
		{"empty host", "http:///path", ErrMalformed},
		{"bad port", "http://example.com:99999/", ErrMalformed},
		{"garbage", "http://[::1", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.raw)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Check(%q) returned %v, expected nil", tt.raw, err)
				}
				if !IsAllowed(tt.raw) {
					t.Fatalf("IsAllowed(%q) = false, expected true", tt.raw)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Check(%q) returned %v, expected %v", tt.raw, err, tt.wantErr)
			}
			if IsAllowed(tt.raw) {
				t.Fatalf("IsAllowed(%q) = true, expected false", tt.raw)
			}
		})
	}
}
