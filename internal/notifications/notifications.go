package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/nelssec/atoguard/internal/models"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotifyNewFinding        NotificationType = "new_finding"
	NotifyCriticalFinding   NotificationType = "critical_finding"
	NotifyAssessmentDone    NotificationType = "assessment_complete"
	NotifyAssessmentFailed  NotificationType = "assessment_failed"
	NotifyRemediationFailed NotificationType = "remediation_failed"
	NotifyApprovalRequired  NotificationType = "approval_required"
)

// Channel defines notification channels
type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelEmail Channel = "email"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Severity  models.Severity
	Data      map[string]interface{}
	Timestamp time.Time
}

// Config holds notification configuration
type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	Enabled     bool
	MinSeverity models.Severity // Minimum severity to notify
}

// EmailConfig holds email configuration
type EmailConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	From        string
	To          []string
	Enabled     bool
	MinSeverity models.Severity
}

// Service handles notifications
type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// NewService creates a new notification service
func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send sends a notification to all enabled channels
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	var errs []error

	if s.config.Slack.Enabled && s.shouldNotify(notif.Severity, s.config.Slack.MinSeverity) {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && s.shouldNotify(notif.Severity, s.config.Email.MinSeverity) {
		if err := s.sendEmail(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}

	return nil
}

// shouldNotify checks if notification should be sent based on severity
func (s *Service) shouldNotify(actual, minimum models.Severity) bool {
	return models.SeverityRank(actual) >= models.SeverityRank(minimum)
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// sendSlack sends a notification to Slack
func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	color := s.severityToColor(notif.Severity)

	fields := []SlackField{}
	if notif.Data != nil {
		if subscriptionID, ok := notif.Data["subscription_id"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Subscription",
				Value: subscriptionID,
				Short: true,
			})
		}
		if family, ok := notif.Data["family"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Control Family",
				Value: family,
				Short: true,
			})
		}
		if count, ok := notif.Data["finding_count"].(int); ok {
			fields = append(fields, SlackField{
				Title: "Findings",
				Value: fmt.Sprintf("%d", count),
				Short: true,
			})
		}
		if severity, ok := notif.Data["severity"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Severity",
				Value: severity,
				Short: true,
			})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "ATOGuard Alert System",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

// severityToColor converts severity to Slack color
func (s *Service) severityToColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#FF0000" // Red
	case models.SeverityHigh:
		return "#FFA500" // Orange
	case models.SeverityMedium:
		return "#FFFF00" // Yellow
	default:
		return "#36A64F" // Green
	}
}

// sendEmail sends a notification via email
func (s *Service) sendEmail(ctx context.Context, notif *Notification) error {
	subject := fmt.Sprintf("[ATOGuard Alert] %s", notif.Title)
	body, err := s.formatEmailBody(notif)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	err = smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg))
	if err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type,
		"title", notif.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

// buildEmailMessage builds an email message
func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// formatEmailBody formats the email body
func (s *Service) formatEmailBody(notif *Notification) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .severity { display: inline-block; padding: 4px 8px; border-radius: 4px; font-weight: bold; background: {{.SeverityColor}}; color: white; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            <p>Severity: <span class="severity">{{.Severity}}</span></p>
            {{if .HasData}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>This is an automated alert from the ATOGuard compliance system.</p>
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	headerColor := "#2196F3" // Default blue
	severityColor := s.severityToColor(notif.Severity)

	switch notif.Severity {
	case models.SeverityCritical:
		headerColor = "#F44336"
	case models.SeverityHigh:
		headerColor = "#FF9800"
	case models.SeverityMedium:
		headerColor = "#FFC107"
	}

	data := map[string]interface{}{
		"Title":         notif.Title,
		"Message":       notif.Message,
		"Severity":      string(notif.Severity),
		"HeaderColor":   headerColor,
		"SeverityColor": severityColor,
		"Data":          notif.Data,
		"HasData":       len(notif.Data) > 0,
		"Timestamp":     notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// NotifyFinding sends a notification for a new finding
func (s *Service) NotifyFinding(ctx context.Context, finding *models.Finding) error {
	notifType := NotifyNewFinding
	title := fmt.Sprintf("New %s Finding Detected", finding.Severity)
	if finding.Severity == models.SeverityCritical {
		notifType = NotifyCriticalFinding
		title = "CRITICAL Compliance Finding"
	}

	notif := &Notification{
		Type:     notifType,
		Title:    title,
		Message:  finding.Title,
		Severity: finding.Severity,
		Data: map[string]interface{}{
			"finding_id":    finding.ID,
			"resource_id":   finding.Resource.ID,
			"resource_name": finding.Resource.Name,
			"finding_type":  finding.FindingType,
			"severity":      string(finding.Severity),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyAssessment sends a notification when an assessment completes
func (s *Service) NotifyAssessment(ctx context.Context, a *models.ComplianceAssessment) error {
	severity := models.SeverityLow
	switch {
	case a.SeverityCounts[models.SeverityCritical] > 0:
		severity = models.SeverityCritical
	case a.SeverityCounts[models.SeverityHigh] > 0:
		severity = models.SeverityHigh
	case a.SeverityCounts[models.SeverityMedium] > 0:
		severity = models.SeverityMedium
	}

	notifType := NotifyAssessmentDone
	title := "Compliance Assessment Completed"
	message := fmt.Sprintf("Overall score %.1f%%, risk level %s", a.OverallScore, a.RiskLevel)
	if a.Error != "" {
		notifType = NotifyAssessmentFailed
		title = "Compliance Assessment Failed"
		message = a.Error
		severity = models.SeverityHigh
	}

	notif := &Notification{
		Type:     notifType,
		Title:    title,
		Message:  message,
		Severity: severity,
		Data: map[string]interface{}{
			"subscription_id":   a.SubscriptionID,
			"overall_score":     fmt.Sprintf("%.1f", a.OverallScore),
			"risk_level":        string(a.RiskLevel),
			"critical_findings": a.SeverityCounts[models.SeverityCritical],
			"high_findings":     a.SeverityCounts[models.SeverityHigh],
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyRemediation sends a notification for a failed or rolled back
// remediation execution.
func (s *Service) NotifyRemediation(ctx context.Context, exec *models.RemediationExecution) error {
	if exec.Status != models.ExecutionFailed && exec.Status != models.ExecutionRolledBack {
		return nil
	}

	notif := &Notification{
		Type:     NotifyRemediationFailed,
		Title:    fmt.Sprintf("Remediation %s", exec.Status),
		Message:  exec.Error,
		Severity: models.SeverityHigh,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"finding_id":   exec.FindingID,
			"resource_id":  exec.ResourceID,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyApprovalRequired sends a notification when a governance workflow
// needs sign-off.
func (s *Service) NotifyApprovalRequired(ctx context.Context, wf *models.ApprovalWorkflow) error {
	notif := &Notification{
		Type:     NotifyApprovalRequired,
		Title:    "Approval Required",
		Message:  wf.Justification,
		Severity: models.SeverityHigh,
		Data: map[string]interface{}{
			"workflow_id": wf.ID,
			"action":      wf.RequestAction,
			"priority":    wf.Priority,
			"approvers":   strings.Join(wf.RequiredApprovers, ", "),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}
