package notifications

import (
	"strings"
	"testing"

	"github.com/nelssec/atoguard/internal/models"
)

func TestShouldNotify(t *testing.T) {
	s := NewService(Config{}, nil)

	tests := []struct {
		name    string
		actual  models.Severity
		minimum models.Severity
		want    bool
	}{
		{"equal severity passes", models.SeverityHigh, models.SeverityHigh, true},
		{"above minimum passes", models.SeverityCritical, models.SeverityHigh, true},
		{"below minimum suppressed", models.SeverityMedium, models.SeverityHigh, false},
		{"low minimum lets everything through", models.SeverityLow, models.SeverityLow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.shouldNotify(tt.actual, tt.minimum); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSeverityToColor(t *testing.T) {
	s := NewService(Config{}, nil)

	tests := []struct {
		severity models.Severity
		want     string
	}{
		{models.SeverityCritical, "#FF0000"},
		{models.SeverityHigh, "#FFA500"},
		{models.SeverityMedium, "#FFFF00"},
		{models.SeverityLow, "#36A64F"},
	}

	for _, tt := range tests {
		if got := s.severityToColor(tt.severity); got != tt.want {
			t.Errorf("severityToColor(%s): expected %s, got %s", tt.severity, tt.want, got)
		}
	}
}

func TestFormatEmailBody(t *testing.T) {
	s := NewService(Config{}, nil)

	body, err := s.formatEmailBody(&Notification{
		Title:    "CRITICAL Compliance Finding",
		Message:  "Storage allows public network access",
		Severity: models.SeverityCritical,
		Data:     map[string]interface{}{"resource_id": "res-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body == "" {
		t.Fatal("expected a rendered body")
	}
	for _, want := range []string{"CRITICAL Compliance Finding", "res-1", "#F44336"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}
