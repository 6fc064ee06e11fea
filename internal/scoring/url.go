package scoring

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	CategoryPhishingRisk     = "Phishing Risk"
	CategoryMalformedLink    = "Malformed Link"
	CategoryInsecureLink     = "Insecure Connection"
	CategoryUnverifiedDomain = "Unverified Domain"
	CategorySafeLink         = "Safe Link"
)

// linkAssessment is the outcome of classifying a single link.
type linkAssessment struct {
	verdict    string
	score      int
	confidence int
	categories []string
	redFlags   []string
	reason     string
	pattern    string
	host       string
}

// assessLink classifies a URL by scheme, TLD and domain reputation.
// Rules are checked in order and the first applicable one wins.
func assessLink(raw string) linkAssessment {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return linkAssessment{
			verdict:    domain.VerdictDangerous,
			score:      60,
			confidence: 70,
			categories: []string{CategoryMalformedLink},
			redFlags:   []string{"link could not be parsed as an http(s) URL"},
			reason:     "malformed or unsupported link",
			pattern:    "unparsable",
		}
	}

	host := normalizeDomain(u.Hostname())
	la := linkAssessment{host: host}
	if _, err := netip.ParseAddr(host); err == nil {
		la.redFlags = append(la.redFlags, "link points at a raw IP address")
	}
	if u.User != nil {
		la.redFlags = append(la.redFlags, "link embeds credentials before the host")
	}

	tld := tldOf(host)
	switch {
	case suspiciousTLDs[tld]:
		la.verdict, la.score, la.confidence = domain.VerdictDangerous, 75, 85
		la.categories = []string{CategoryPhishingRisk}
		la.redFlags = append(la.redFlags, fmt.Sprintf("high-abuse top-level domain .%s", tld))
		la.reason = fmt.Sprintf("%s uses a top-level domain common in phishing", host)
		la.pattern = "suspicious-tld"
	case domainIn(host, trustedDomains) && u.Scheme == "https":
		la.verdict, la.score, la.confidence = domain.VerdictSafe, 5, 90
		la.categories = []string{CategorySafeLink}
		la.reason = fmt.Sprintf("%s is a trusted domain served over https", host)
		la.pattern = "trusted-https"
	case domainIn(host, trustedDomains):
		la.verdict, la.score, la.confidence = domain.VerdictCaution, 30, 75
		la.categories = []string{CategoryInsecureLink}
		la.redFlags = append(la.redFlags, "unencrypted http connection")
		la.reason = fmt.Sprintf("%s is trusted but the link is not encrypted", host)
		la.pattern = "trusted-http"
	case u.Scheme == "http":
		la.verdict, la.score, la.confidence = domain.VerdictCaution, 45, 65
		la.categories = []string{CategoryInsecureLink, CategoryUnverifiedDomain}
		la.redFlags = append(la.redFlags, "unencrypted http connection")
		la.reason = fmt.Sprintf("%s is not a known domain and the link is not encrypted", host)
		la.pattern = "unknown-http"
	default:
		la.verdict, la.score, la.confidence = domain.VerdictCaution, 25, 60
		la.categories = []string{CategoryUnverifiedDomain}
		la.reason = fmt.Sprintf("%s is not a known domain", host)
		la.pattern = "unknown-https"
	}
	return la
}

func linkRecommendation(verdict string) string {
	switch verdict {
	case domain.VerdictSafe:
		return "This link looks safe."
	case domain.VerdictDangerous:
		return "Do not open this link or enter any details on the page."
	default:
		return "Open with caution and do not enter credentials or payment details."
	}
}

func scoreURL(p domain.Payload) domain.ScoredItem {
	la := assessLink(p.URL)
	raw := map[string]string{"url": strings.TrimSpace(p.URL)}
	var keywords []string
	if la.host != "" {
		keywords = append(keywords, la.host)
		raw["sourceDomain"] = la.host
	}
	return domain.ScoredItem{
		RawFields:      raw,
		RiskScore:      la.score,
		Categories:     la.categories,
		Confidence:     la.confidence,
		Verdict:        la.verdict,
		Recommendation: linkRecommendation(la.verdict),
		RedFlags:       la.redFlags,
		Explanation: domain.Explanation{
			Reason:   la.reason,
			Keywords: keywords,
			Pattern:  la.pattern,
		},
	}
}
