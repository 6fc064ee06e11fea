package scoring

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// extensionRisk is the base risk of a file by extension.
var extensionRisk = map[string]int{
	"scr": 50,
	"exe": 45, "vbs": 45,
	"bat": 40, "cmd": 40, "com": 40, "msi": 40, "ps1": 40, "apk": 40, "dll": 40,
	"js": 35, "jar": 35, "docm": 35, "xlsm": 35,
	"sh":  30,
	"dmg": 25, "iso": 25,
	"rar": 20, "7z": 20,
	"zip": 15,
	"pdf": 10,
	"doc": 8, "xls": 8,
	"docx": 5, "xlsx": 5, "pptx": 5,
	"mkv": 2,
	"txt": 0, "csv": 0, "md": 0,
	"png": 0, "jpg": 0, "jpeg": 0, "gif": 0, "webp": 0,
	"mp3": 0, "mp4": 0, "wav": 0, "mov": 0,
}

const (
	unknownExtensionRisk = 10
	highRiskExtension    = 35

	trustedDomainCredit = 20
	dangerousDomainRisk = 25
	sizeAnomalyRisk     = 15

	minExecutableSize = 100 << 10
	minAPKSize        = 1 << 20
)

const (
	CategoryHighRiskFile     = "High-Risk File Type"
	CategoryDoubleExtension  = "Double Extension"
	CategoryPiratedSoftware  = "Pirated Software"
	CategoryObfuscation      = "Filename Obfuscation"
	CategoryMalwareRisk      = "Malware Risk"
	CategorySizeAnomaly      = "Size Anomaly"
	CategoryInsufficientData = "Insufficient Data"
)

var executableExtensions = map[string]bool{
	"exe": true, "scr": true, "msi": true, "com": true, "dll": true,
}

// filenamePattern adds a fixed delta and label when its expression matches the filename.
type filenamePattern struct {
	name  string
	re    *regexp.Regexp
	delta int
	label string
}

var filenamePatterns = []filenamePattern{
	{
		name:  "double-extension",
		re:    regexp.MustCompile(`(?i)\.(pdf|docx?|xlsx?|pptx?|jpe?g|png|gif|txt|mp[34]|zip)\.(exe|scr|bat|cmd|com|js|vbs|msi|apk|jar|ps1)$`),
		delta: 30,
		label: CategoryDoubleExtension,
	},
	{
		name:  "pirated-naming",
		re:    regexp.MustCompile(`(?i)(crack|keygen|activator|warez|nulled|free[_\- ]?premium|serial[_\- ]?key|patch(ed|er)?[_\-. ]|(^|[_\-. ])loader[_\-. ])`),
		delta: 35,
		label: CategoryPiratedSoftware,
	},
	{
		name:  "whitespace-obfuscation",
		re:    regexp.MustCompile(`\s{3,}`),
		delta: 20,
		label: CategoryObfuscation,
	},
	{
		name:  "malware-naming",
		re:    regexp.MustCompile(`(?i)(trojan|ransom|stealer|(^|[^a-z])rat([^a-z]|$)|payload|miner|inject)`),
		delta: 40,
		label: CategoryMalwareRisk,
	},
}

// extensionOf returns the lowercased final extension without the dot.
func extensionOf(filename string) string {
	ext := path.Ext(strings.TrimSpace(filename))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// scoreFile applies the additive file heuristics.
func scoreFile(p domain.Payload) domain.ScoredItem {
	filename := strings.TrimSpace(p.Filename)
	ext := extensionOf(filename)

	sourceDomain := normalizeDomain(p.SourceDomain)
	if sourceDomain == "" && p.SourceURL != "" {
		sourceDomain = hostOf(p.SourceURL)
	}

	var (
		score      int
		signals    int
		categories []string
		keywords   []string
		patterns   []string
		reasons    []string
	)

	base, known := extensionRisk[ext]
	if !known {
		base = unknownExtensionRisk
	}
	score = base
	if ext != "" {
		keywords = append(keywords, "."+ext)
	}
	if base >= highRiskExtension {
		signals++
		categories = append(categories, CategoryHighRiskFile)
		reasons = append(reasons, fmt.Sprintf(".%s files can execute code (base risk %d)", ext, base))
		patterns = append(patterns, "extension-risk")
	}

	for _, fp := range filenamePatterns {
		m := fp.re.FindString(filename)
		if m == "" {
			continue
		}
		signals++
		score += fp.delta
		categories = appendUnique(categories, fp.label)
		keywords = appendUnique(keywords, strings.ToLower(strings.TrimSpace(strings.Trim(m, "_-. "))))
		patterns = append(patterns, fp.name)
		reasons = append(reasons, fmt.Sprintf("filename matches %s (+%d)", fp.name, fp.delta))
	}

	switch {
	case domainIn(sourceDomain, dangerousDomains):
		signals++
		score += dangerousDomainRisk
		categories = prependUnique(categories, CategoryPiratedSoftware, CategoryMalwareRisk)
		keywords = appendUnique(keywords, sourceDomain)
		patterns = append(patterns, "dangerous-domain")
		reasons = append(reasons, fmt.Sprintf("downloaded from %s, a known piracy source (+%d)", sourceDomain, dangerousDomainRisk))
	case domainIn(sourceDomain, trustedDomains):
		signals++
		score -= trustedDomainCredit
		if score < 0 {
			score = 0
		}
		patterns = append(patterns, "trusted-domain")
		reasons = append(reasons, fmt.Sprintf("downloaded from trusted publisher %s (-%d)", sourceDomain, trustedDomainCredit))
	}

	if p.FileSize > 0 {
		var limit int64
		switch {
		case executableExtensions[ext]:
			limit = minExecutableSize
		case ext == "apk":
			limit = minAPKSize
		}
		if limit > 0 && p.FileSize < limit {
			signals++
			score += sizeAnomalyRisk
			categories = appendUnique(categories, CategorySizeAnomaly)
			patterns = append(patterns, "size-anomaly")
			reasons = append(reasons, fmt.Sprintf("%d-byte .%s is unusually small (+%d)", p.FileSize, ext, sizeAnomalyRisk))
		}
	}

	score = clamp(score)

	confidence := 80
	if len(categories) > 0 {
		confidence = min(95, 60+10*signals)
	} else {
		categories = []string{domain.CategoryClean}
	}

	verdict, recommendation := fileVerdict(score)
	reason := "no risk indicators found"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	raw := map[string]string{
		"filename":  filename,
		"extension": ext,
	}
	if sourceDomain != "" {
		raw["sourceDomain"] = sourceDomain
	}
	if p.SourceURL != "" {
		raw["url"] = p.SourceURL
	}
	if p.FileSize > 0 {
		raw["fileSize"] = strconv.FormatInt(p.FileSize, 10)
	}

	return domain.ScoredItem{
		RawFields:      raw,
		RiskScore:      score,
		Categories:     categories,
		Confidence:     confidence,
		Verdict:        verdict,
		Recommendation: recommendation,
		Explanation: domain.Explanation{
			Reason:   reason,
			Keywords: keywords,
			Pattern:  strings.Join(patterns, ","),
		},
	}
}

func fileVerdict(score int) (string, string) {
	switch {
	case score > 55:
		return domain.VerdictMalicious, "Do not open this file. Delete it and scan the device."
	case score > 35:
		return domain.VerdictSuspicious, "Verify the publisher before opening this file."
	default:
		return domain.VerdictClean, "No known risk indicators. Keep endpoint protection enabled."
	}
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, x := range list {
			if x == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

// prependUnique puts values first, in order, and keeps the rest of list after them.
func prependUnique(list []string, values ...string) []string {
	out := appendUnique(nil, values...)
	return appendUnique(out, list...)
}

func clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
