package main

import (
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestReadCorpus(t *testing.T) {
	corpus := `content_type,content,source_domain,file_size,label
file,free_premium_crack.exe,apkpure.com,2048,1
url,https://github.com,,,0
qr,upi://pay?pa=shop@okaxis,,,benign
video,clip.mp4,,,1
text,hello,,,maybe
file,setup.exe,,notanumber,0
`
	samples, skipped, err := readCorpus(strings.NewReader(corpus), 0)
	if err != nil {
		t.Fatalf("readCorpus: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if skipped != 3 {
		t.Errorf("expected 3 skipped rows, got %d", skipped)
	}

	file := samples[0]
	if !file.Harmful || file.Request.Payload.SourceDomain != "apkpure.com" || file.Request.Payload.FileSize != 2048 {
		t.Errorf("unexpected file sample: %+v", file)
	}
	if samples[1].Request.Payload.URL != "https://github.com" || samples[1].Harmful {
		t.Errorf("unexpected url sample: %+v", samples[1])
	}
	if samples[2].Request.ContentType != domain.ContentQR {
		t.Errorf("expected qr sample, got %s", samples[2].Request.ContentType)
	}

	t.Run("Limit", func(t *testing.T) {
		samples, _, err := readCorpus(strings.NewReader(corpus), 1)
		if err != nil {
			t.Fatalf("readCorpus: %v", err)
		}
		if len(samples) != 1 {
			t.Errorf("expected 1 sample, got %d", len(samples))
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		if _, _, err := readCorpus(strings.NewReader("content,label\nx,1\n"), 0); err == nil {
			t.Error("expected error for missing content_type column")
		}
	})
}

func TestMetrics(t *testing.T) {
	m := &Metrics{}
	m.Record(true, true)
	m.Record(true, false)
	m.Record(false, false)
	m.Record(false, false)
	m.Record(false, true)

	if m.TotalHarmful != 2 || m.TotalBenign != 3 {
		t.Errorf("expected 2 harmful and 3 benign, got %d and %d", m.TotalHarmful, m.TotalBenign)
	}

	precision, recall, _, accuracy := m.Scores()
	if precision != 0.5 {
		t.Errorf("expected precision 0.5, got %f", precision)
	}
	if recall != 0.5 {
		t.Errorf("expected recall 0.5, got %f", recall)
	}
	if accuracy != 0.6 {
		t.Errorf("expected accuracy 0.6, got %f", accuracy)
	}
}

func TestFlagged(t *testing.T) {
	tests := []struct {
		name string
		resp ScanResponse
		want bool
	}{
		{"BlockedLow", ScanResponse{Severity: domain.SeverityLow, Blocked: true}, true},
		{"High", ScanResponse{Severity: domain.SeverityHigh}, true},
		{"Medium", ScanResponse{Severity: domain.SeverityMedium}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flagged(&tt.resp, domain.SeverityHigh); got != tt.want {
				t.Errorf("flagged = %v, want %v", got, tt.want)
			}
		})
	}
}
