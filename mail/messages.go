package mail

import (
	"fmt"
	"html"
	"time"
)

// ResetOTPMessage is the admin password-reset email carrying a numeric code.
func ResetOTPMessage(to, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "ShadowMesh password reset code",
		HTMLBody: fmt.Sprintf(
			"<p>Your ShadowMesh password reset code is <strong>%s</strong>.</p>"+
				"<p>It expires in %d minutes. If you did not request a reset, ignore this email.</p>",
			html.EscapeString(code), int(ttl.Minutes())),
	}
}

// ResetLinkMessage is the member password-reset email carrying a link.
func ResetLinkMessage(to, link string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Reset your ShadowMesh password",
		HTMLBody: fmt.Sprintf(
			"<p>Click the link below to reset your ShadowMesh password:</p>"+
				"<p><a href=%q>%s</a></p>"+
				"<p>The link is valid for %d minutes and can be used once.</p>",
			link, html.EscapeString(link), int(ttl.Minutes())),
	}
}

// BackupOTPMessage is the fallback verification code email.
func BackupOTPMessage(to, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "ShadowMesh verification code",
		HTMLBody: fmt.Sprintf(
			"<p>Your ShadowMesh verification code is <strong>%s</strong>.</p>"+
				"<p>It expires in %d minutes and works only once.</p>",
			html.EscapeString(code), int(ttl.Minutes())),
	}
}
