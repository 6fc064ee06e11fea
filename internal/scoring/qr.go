package scoring

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// QR payload kinds, recorded in RawFields["qrKind"].
const (
	QRKindUPI   = "upi_payment"
	QRKindURL   = "url"
	QRKindVCard = "vcard"
	QRKindWiFi  = "wifi"
	QRKindText  = "text"
	QRKindOther = "other"
)

const (
	CategoryUPIPayment      = "UPI Payment"
	CategoryUnverifiedPayee = "Unverified Payee"
	CategoryPaymentFraud    = "Payment Fraud"
	CategoryUnknownPayload  = "Unknown QR Payload"

	largeUPIAmount = 10000
)

// trustedPSPHandles are UPI handles issued by regulated payment service providers.
var trustedPSPHandles = map[string]bool{
	"ybl": true, "okaxis": true, "okhdfcbank": true, "oksbi": true, "okicici": true,
	"paytm": true, "upi": true, "apl": true, "ibl": true, "axl": true,
	"icici": true, "sbi": true, "hdfcbank": true,
}

var (
	schemePrefix = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.\-]*):\S`)
	upiAddress   = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z][a-zA-Z0-9]{1,63}$`)
)

// classifyQR returns the payload kind by prefix.
func classifyQR(data string) string {
	lower := strings.ToLower(data)
	switch {
	case strings.HasPrefix(lower, "upi://"):
		return QRKindUPI
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return QRKindURL
	case strings.HasPrefix(lower, "begin:vcard"):
		return QRKindVCard
	case strings.HasPrefix(lower, "wifi:"):
		return QRKindWiFi
	case schemePrefix.MatchString(data):
		return QRKindOther
	default:
		return QRKindText
	}
}

func scoreQR(p domain.Payload) domain.ScoredItem {
	data := strings.TrimSpace(p.QRData)
	kind := classifyQR(data)

	var item domain.ScoredItem
	switch kind {
	case QRKindUPI:
		item = scoreUPI(data)
	case QRKindURL:
		item = scoreURL(domain.Payload{URL: data})
		item.Explanation.Pattern = "qr-" + item.Explanation.Pattern
	case QRKindVCard, QRKindWiFi, QRKindText:
		item = domain.ScoredItem{
			RawFields:      map[string]string{},
			RiskScore:      2,
			Categories:     []string{domain.CategoryClean},
			Confidence:     80,
			Verdict:        domain.VerdictSafe,
			Recommendation: "No payment or link in this code.",
			Explanation: domain.Explanation{
				Reason:  fmt.Sprintf("QR code contains %s data", kind),
				Pattern: "qr-" + kind,
			},
		}
		if kind == QRKindWiFi && strings.Contains(strings.ToUpper(data), "T:NOPASS") {
			item.RedFlags = append(item.RedFlags, "open network without a password")
		}
	default:
		scheme := strings.ToLower(schemePrefix.FindStringSubmatch(data)[1])
		item = domain.ScoredItem{
			RawFields:      map[string]string{},
			RiskScore:      20,
			Categories:     []string{CategoryUnknownPayload},
			Confidence:     60,
			Verdict:        domain.VerdictCaution,
			Recommendation: "Only act on this code if you recognise the app it opens.",
			RedFlags:       []string{fmt.Sprintf("unrecognised scheme %s:", scheme)},
			Explanation: domain.Explanation{
				Reason:   fmt.Sprintf("QR code opens an unrecognised %s: link", scheme),
				Keywords: []string{scheme},
				Pattern:  "qr-other",
			},
		}
	}
	if item.RawFields == nil {
		item.RawFields = map[string]string{}
	}
	item.RawFields["qrKind"] = kind
	return item
}

func scoreUPI(data string) domain.ScoredItem {
	u, err := url.Parse(data)
	var q url.Values
	if err == nil {
		q = u.Query()
	}
	payee := strings.TrimSpace(q.Get("pa"))
	if err != nil || !upiAddress.MatchString(payee) {
		return domain.ScoredItem{
			RawFields:      map[string]string{"payee": payee},
			RiskScore:      80,
			Categories:     []string{CategoryPaymentFraud},
			Confidence:     85,
			Verdict:        domain.VerdictDangerous,
			Recommendation: "Do not pay. This payment request is malformed.",
			RedFlags:       []string{"malformed UPI payment request"},
			Explanation: domain.Explanation{
				Reason:  "UPI payment request has no valid payee address",
				Pattern: "qr-upi-malformed",
			},
		}
	}

	pd := &domain.PaymentDetails{
		Payee:     payee,
		PayeeName: q.Get("pn"),
		Amount:    q.Get("am"),
		Currency:  q.Get("cu"),
		Note:      q.Get("tn"),
	}
	raw := map[string]string{"payee": payee}
	if pd.PayeeName != "" {
		raw["payeeName"] = pd.PayeeName
	}
	if pd.Amount != "" {
		raw["amount"] = pd.Amount
	}

	handle := strings.ToLower(payee[strings.LastIndexByte(payee, '@')+1:])
	item := domain.ScoredItem{
		RawFields:      raw,
		PaymentDetails: pd,
		Explanation: domain.Explanation{
			Keywords: []string{"@" + handle},
		},
	}
	if trustedPSPHandles[handle] {
		item.RiskScore = 5
		item.Categories = []string{CategoryUPIPayment}
		item.Confidence = 85
		item.Verdict = domain.VerdictSafe
		item.Recommendation = "Confirm the payee name before approving the payment."
		item.Explanation.Reason = fmt.Sprintf("payee handle @%s belongs to a regulated payment provider", handle)
		item.Explanation.Pattern = "qr-upi-trusted"
	} else {
		item.RiskScore = 40
		item.Categories = []string{CategoryUnverifiedPayee}
		item.Confidence = 70
		item.Verdict = domain.VerdictCaution
		item.Recommendation = "Verify the payee through another channel before paying."
		item.RedFlags = []string{"unverified private UPI address"}
		item.Explanation.Reason = fmt.Sprintf("payee handle @%s is not a known payment provider", handle)
		item.Explanation.Pattern = "qr-upi-unverified"
	}
	if amt, err := strconv.ParseFloat(pd.Amount, 64); err == nil && amt >= largeUPIAmount {
		item.RedFlags = append(item.RedFlags, fmt.Sprintf("large amount requested (%s)", pd.Amount))
	}
	return item
}
