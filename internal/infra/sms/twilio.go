// Package sms implements the secondary carrier provider on top of Twilio.
package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
)

// TwilioProvider implements notification.CarrierProvider.
type TwilioProvider struct {
	client *twilio.RestClient
	from   string
	log    *logrus.Entry
}

func NewTwilioProvider(accountSID, authToken, fromNumber string, log *logrus.Entry) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{client: client, from: fromNumber, log: log}
}

// SendText sends one SMS and returns the provider message SID. Twilio REST
// rejections are converted into *notification.ProviderError so the numeric
// restriction code (e.g. trial-account geographic limits) survives
// classification instead of being flattened into a generic failure.
func (p *TwilioProvider) SendText(ctx context.Context, to, body string) (string, error) {
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(p.from)
	params.SetBody(body)

	resp, err := p.client.Api.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			p.log.WithFields(logrus.Fields{
				"to":   to,
				"code": restErr.Code,
			}).Warn("Twilio rejected message")
			return "", &notification.ProviderError{Code: restErr.Code, Message: restErr.Message}
		}
		return "", fmt.Errorf("twilio send failed: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio send returned no message sid")
	}
	return *resp.Sid, nil
}
