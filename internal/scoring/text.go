package scoring

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	CategoryConspiracy      = "Conspiracy Theory"
	CategoryHealthMisinfo   = "Health Misinformation"
	CategoryPoliticalClaim  = "Political Claim"
	CategoryFinancialScam   = "Financial Scam"
	CategoryVerifiedFact    = "Verified Fact"
	CategoryUnverifiedClaim = "Unverified Claim"
	maxKeywords             = 5
)

// claimFamily is one group of fact-check patterns. Families are checked in
// order and the first one with a match decides the result.
type claimFamily struct {
	name           string
	re             *regexp.Regexp
	verdict        string
	confidence     int
	category       string
	score          int
	summary        string
	recommendation string
}

var claimFamilies = []claimFamily{
	{
		name:           "conspiracy",
		re:             regexp.MustCompile(`(?i)\b(flat earth|moon landings? (was|were) (fake|faked|a hoax|staged)|chemtrails?|5g (causes|spreads)|illuminati|new world order|lizard people|qanon|deep state)\b`),
		verdict:        domain.VerdictFalse,
		confidence:     90,
		category:       CategoryConspiracy,
		score:          70,
		summary:        "The claim repeats a known conspiracy theory.",
		recommendation: "Do not share. Check an established fact-checking source.",
	},
	{
		name:           "medical",
		re:             regexp.MustCompile(`(?i)\b(vaccines? (cause|causes) autism|cures? (cancer|covid|diabetes|hiv)|drink(ing)? bleach|miracle cure|covid (is|was) (a )?hoax|ivermectin cures|essential oils? cures?)\b`),
		verdict:        domain.VerdictFalse,
		confidence:     85,
		category:       CategoryHealthMisinfo,
		score:          80,
		summary:        "The claim contradicts established medical evidence.",
		recommendation: "Do not act on this. Consult a qualified medical professional.",
	},
	{
		name:           "political",
		re:             regexp.MustCompile(`(?i)\b(rigged elections?|elections? (was|were|is) stolen|stolen elections?|fake news media|enemy of the people|voter fraud|traitors?)\b`),
		verdict:        domain.VerdictMisleading,
		confidence:     60,
		category:       CategoryPoliticalClaim,
		score:          50,
		summary:        "The claim uses politically loaded framing that needs context.",
		recommendation: "Compare coverage from several independent sources.",
	},
	{
		name:           "financial-scam",
		re:             regexp.MustCompile(`(?i)\b(guaranteed returns?|double your money|risk[- ]free investment|send (your )?(otp|pin)|lottery winner|you have won|claim your prize|crypto giveaway|processing fee|urgent(ly)? (transfer|payment)|kyc (update|expired|pending))\b`),
		verdict:        domain.VerdictFalse,
		confidence:     85,
		category:       CategoryFinancialScam,
		score:          85,
		summary:        "The message follows a common financial scam script.",
		recommendation: "Do not send money or share OTPs. Report the sender.",
	},
	{
		name:           "verifiable-fact",
		re:             regexp.MustCompile(`(?i)\b(earth (orbits|revolves around) the sun|water boils at 100|the earth is round|humans need oxygen|paris is the capital of france|light travels faster than sound)\b`),
		verdict:        domain.VerdictTrue,
		confidence:     95,
		category:       CategoryVerifiedFact,
		score:          5,
		summary:        "The claim matches a well-established fact.",
		recommendation: "No action needed.",
	},
}

func scoreText(p domain.Payload) domain.ScoredItem {
	text := strings.TrimSpace(p.Text)
	for _, f := range claimFamilies {
		matches := f.re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		var keywords []string
		for _, m := range matches {
			keywords = appendUnique(keywords, strings.ToLower(m))
			if len(keywords) == maxKeywords {
				break
			}
		}
		return domain.ScoredItem{
			RiskScore:      f.score,
			Categories:     []string{f.category},
			Confidence:     f.confidence,
			Verdict:        f.verdict,
			Recommendation: f.recommendation,
			Explanation: domain.Explanation{
				Reason:   f.summary,
				Keywords: keywords,
				Pattern:  f.name,
			},
		}
	}

	return domain.ScoredItem{
		RiskScore:      20,
		Categories:     []string{CategoryUnverifiedClaim},
		Confidence:     40,
		Verdict:        domain.VerdictUnverified,
		Recommendation: "Verify with a trusted source before sharing.",
		Explanation: domain.Explanation{
			Reason:  fmt.Sprintf("No known pattern matched this %d-character claim.", utf8.RuneCountInString(text)),
			Pattern: "none",
		},
	}
}
