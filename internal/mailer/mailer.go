// Package mailer delivers one-time codes by email, either directly over
// SMTP or through a broker queue drained by the worker command.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

// Message is a single outbound HTML email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Mailer sends a message. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

const otpSubject = "Your OTP Code"

var otpTemplate = template.Must(template.New("otp").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Your OTP Code</h2>
  <p>Your One-Time Password (OTP) is:</p>
  <div style="background-color: #f4f4f4; padding: 20px; text-align: center; margin: 20px 0;">
    <h1 style="color: #007bff; font-size: 32px; margin: 0; letter-spacing: 5px;">{{.Code}}</h1>
  </div>
  <p>This code will expire in {{.Minutes}} minutes.</p>
  <p style="color: #666; font-size: 12px;">If you didn't request this code, please ignore this email.</p>
</div>
`))

// OTPMessage renders the email carrying code to the given address.
func OTPMessage(to, code string, validity time.Duration) (Message, error) {
	var buf bytes.Buffer
	data := struct {
		Code    string
		Minutes int
	}{code, int(validity.Minutes())}
	if err := otpTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render otp email: %w", err)
	}
	return Message{To: to, Subject: otpSubject, HTML: buf.String()}, nil
}
