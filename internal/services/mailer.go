package services

import (
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/logger"
)

// MailerService sends transactional mail through SendGrid. When no API
// key is configured the service stays in a disabled state and logs the
// mail it would have sent, so local development needs no mail account.
type MailerService struct {
	client      *sendgrid.Client
	fromName    string
	fromEmail   string
	frontendURL string
}

func NewMailerService(cfg config.MailConfig, frontendURL string) *MailerService {
	s := &MailerService{
		fromName:    cfg.FromName,
		fromEmail:   cfg.FromEmail,
		frontendURL: frontendURL,
	}
	if cfg.SendGridAPIKey != "" {
		s.client = sendgrid.NewSendClient(cfg.SendGridAPIKey)
	}
	return s
}

// SendInvitation delivers the workspace invitation in the background.
// Mail failures are logged and never fail the inviting request.
func (s *MailerService) SendInvitation(toEmail, workspaceName, inviterName string, role models.MemberRole, token string, expiresAt time.Time) {
	acceptURL := fmt.Sprintf("%s/invitations/accept?token=%s", s.frontendURL, token)
	subject := fmt.Sprintf("You've been invited to %s on Trellis", workspaceName)
	body := fmt.Sprintf(`
		<p>Hi,</p>
		<p><strong>%s</strong> has invited you to join the workspace <strong>%s</strong> as a %s.</p>
		<a href="%s" class="btn">Accept Invitation</a>
		<p class="muted">This invitation expires on %s. If you weren't expecting it, you can ignore this email.</p>
	`, inviterName, workspaceName, role.String(), acceptURL, expiresAt.Format("January 2, 2006"))
	plain := fmt.Sprintf("%s has invited you to join %s on Trellis as a %s. Accept: %s", inviterName, workspaceName, role.String(), acceptURL)

	go s.send(toEmail, subject, emailTemplate("Workspace Invitation", body), plain)
}

func (s *MailerService) send(toEmail, subject, htmlBody, plainBody string) {
	if s.client == nil {
		logger.Info("mail disabled, skipping send", map[string]interface{}{
			"to":      toEmail,
			"subject": subject,
		})
		return
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainBody, htmlBody)

	resp, err := s.client.Send(message)
	if err != nil {
		logger.Warn("mail send failed", map[string]interface{}{
			"to":    toEmail,
			"error": err.Error(),
		})
		return
	}
	if resp.StatusCode >= 400 {
		logger.Warn("mail send rejected", map[string]interface{}{
			"to":     toEmail,
			"status": resp.StatusCode,
			"body":   resp.Body,
		})
	}
}

func emailTemplate(title, bodyContent string) string {
	return fmt.Sprintf(`
	<!DOCTYPE html>
	<html>
	<head>
		<style>
			body { font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; background-color: #F6F6F6; margin: 0; padding: 0; }
			.container { max-width: 600px; margin: 40px auto; background: #FFFFFF; border-radius: 8px; overflow: hidden; }
			.header { background-color: #1D2D44; padding: 24px; text-align: center; }
			.header h1 { color: #FFFFFF; margin: 0; font-size: 20px; letter-spacing: 1px; }
			.content { padding: 32px 28px; color: #1D2D44; line-height: 1.6; }
			.content h2 { margin-top: 0; }
			.btn { display: inline-block; padding: 12px 24px; background-color: #3E5C76; color: #FFFFFF; text-decoration: none; border-radius: 4px; font-weight: bold; margin: 16px 0; }
			.muted { font-size: 12px; color: #666666; }
			.footer { padding: 20px; text-align: center; font-size: 12px; color: #666666; border-top: 1px solid #E0E0E0; }
		</style>
	</head>
	<body>
		<div class="container">
			<div class="header">
				<h1>TRELLIS</h1>
			</div>
			<div class="content">
				<h2>%s</h2>
				%s
			</div>
			<div class="footer">
				You received this email because of activity in a Trellis workspace.
			</div>
		</div>
	</body>
	</html>
	`, title, bodyContent)
}
