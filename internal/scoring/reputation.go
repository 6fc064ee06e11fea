package scoring

import (
	"net/url"
	"strings"
)

// trustedDomains are well-known publishers and platforms. Subdomains match.
var trustedDomains = []string{
	"google.com",
	"microsoft.com",
	"apple.com",
	"github.com",
	"mozilla.org",
	"adobe.com",
	"dropbox.com",
	"amazon.com",
	"python.org",
	"ubuntu.com",
	"wikipedia.org",
	"paypal.com",
	"npci.org.in",
}

// dangerousDomains distribute pirated or cracked software.
var dangerousDomains = []string{
	"apkpure.com",
	"thepiratebay.org",
	"1337x.to",
	"crackedpc.org",
	"getintopc.com",
	"oceanofgames.com",
	"igg-games.com",
	"filecr.com",
}

// suspiciousTLDs are top-level domains with high phishing abuse rates.
var suspiciousTLDs = map[string]bool{
	"tk": true, "ml": true, "ga": true, "cf": true, "gq": true,
	"xyz": true, "top": true, "zip": true, "click": true, "work": true,
}

// normalizeDomain lowercases a host and strips a leading "www.".
func normalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

// domainIn reports whether domain equals or is a subdomain of any listed domain.
func domainIn(domain string, list []string) bool {
	if domain == "" {
		return false
	}
	for _, d := range list {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// hostOf extracts the normalized host of a URL, or "" if it has none.
func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return normalizeDomain(u.Hostname())
}

// tldOf returns the last label of a host.
func tldOf(host string) string {
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		return host[i+1:]
	}
	return ""
}
