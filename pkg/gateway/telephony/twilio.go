package telephony

import (
	"context"
	"fmt"
	"log/slog"

	twilio "github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// Twilio drives live calls through the Twilio REST API. The v2010 call
// update endpoint does not take raw digits, so DTMF is injected by
// swapping in a short <Play digits> TwiML document.
type Twilio struct {
	client *twilio.RestClient
	logger *slog.Logger
}

func NewTwilio(accountSID, authToken string, logger *slog.Logger) *Twilio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Twilio{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		logger: logger,
	}
}

func (t *Twilio) PlaceCall(ctx context.Context, from, to, twimlURL string) (string, error) {
	params := &api.CreateCallParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetUrl(twimlURL)
	call, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	if call.Sid == nil {
		return "", fmt.Errorf("place call: provider returned no sid")
	}
	return *call.Sid, nil
}

func (t *Twilio) SendDigits(ctx context.Context, callSid, digits string) error {
	doc, err := DigitsTwiML(digits)
	if err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := t.client.Api.UpdateCall(callSid, params); err != nil {
		return fmt.Errorf("send digits: %w", err)
	}
	t.logger.Info("sent dtmf", "call_sid", callSid, "digits", digits)
	return nil
}

func (t *Twilio) RedirectTwiML(ctx context.Context, callSid, doc string) error {
	params := &api.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := t.client.Api.UpdateCall(callSid, params); err != nil {
		return fmt.Errorf("redirect call: %w", err)
	}
	return nil
}

func (t *Twilio) Hangup(ctx context.Context, callSid string) error {
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := t.client.Api.UpdateCall(callSid, params); err != nil {
		return fmt.Errorf("hangup: %w", err)
	}
	t.logger.Info("ended call", "call_sid", callSid)
	return nil
}

func (t *Twilio) Status(ctx context.Context, callSid string) (string, error) {
	call, err := t.client.Api.FetchCall(callSid, &api.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("fetch call: %w", err)
	}
	if call.Status == nil {
		return "", nil
	}
	return *call.Status, nil
}

// Disabled is the fallback controller used when no provider credentials
// are configured. Every operation logs and reports failure so callers
// surface it as an observability event rather than silently dropping
// supervisor intent.
type Disabled struct {
	Logger *slog.Logger
}

func (d Disabled) err(op string) error {
	if d.Logger != nil {
		d.Logger.Warn("telephony credentials missing; cannot execute", "op", op)
	}
	return fmt.Errorf("telephony control disabled: %s", op)
}

func (d Disabled) PlaceCall(ctx context.Context, from, to, twimlURL string) (string, error) {
	return "", d.err("place_call")
}

func (d Disabled) SendDigits(ctx context.Context, callSid, digits string) error {
	return d.err("send_digits")
}

func (d Disabled) RedirectTwiML(ctx context.Context, callSid, doc string) error {
	return d.err("redirect")
}

func (d Disabled) Hangup(ctx context.Context, callSid string) error {
	return d.err("hangup")
}

func (d Disabled) Status(ctx context.Context, callSid string) (string, error) {
	return "", d.err("status")
}
