// Package telephony abstracts the provider control surface used to
// steer live calls: DTMF injection, TwiML redirects, hangup, and
// outbound dialing. The relay core only depends on Controller; the
// Twilio implementation lives in twilio.go.
package telephony

import "context"

type Controller interface {
	// PlaceCall dials an outbound call and returns the provider call id.
	PlaceCall(ctx context.Context, from, to, twimlURL string) (string, error)

	// SendDigits plays DTMF tones into the live call.
	SendDigits(ctx context.Context, callSid, digits string) error

	// RedirectTwiML replaces the call's media session with the given
	// TwiML document (used for transfers).
	RedirectTwiML(ctx context.Context, callSid, doc string) error

	// Hangup terminates the call gracefully.
	Hangup(ctx context.Context, callSid string) error

	// Status returns the provider-reported call status.
	Status(ctx context.Context, callSid string) (string, error)
}
