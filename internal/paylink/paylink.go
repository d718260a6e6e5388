// Package paylink builds deep links and QR payloads for external payment
// apps from a friend's payment handle. It is pure formatting: balances and
// direction wording are supplied by the caller.
package paylink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	pp "github.com/Frontware/promptpay"

	"romana/internal/core"
)

type Provider string

const (
	ProviderCashApp   Provider = "cashapp"
	ProviderVenmo     Provider = "venmo"
	ProviderPromptPay Provider = "promptpay"
)

var (
	ErrEmptyHandle   = errors.New("empty payment handle")
	ErrUnknownHandle = errors.New("unrecognized payment handle")
)

// Link is a ready-to-open payment reference. URL is the https deep link;
// Payload is what a QR code should encode. They are the same except for
// PromptPay, which has no https form and carries only the EMV payload.
type Link struct {
	Provider Provider `json:"provider"`
	URL      string   `json:"url,omitempty"`
	Payload  string   `json:"payload"`
}

// Detect classifies a handle by its shape: $cashtag for Cash App,
// @venmoname for Venmo, a 10 or 13 digit id for PromptPay.
func Detect(handle string) (Provider, error) {
	handle = strings.TrimSpace(handle)
	switch {
	case handle == "":
		return "", ErrEmptyHandle
	case strings.HasPrefix(handle, "$") && len(handle) > 1:
		return ProviderCashApp, nil
	case strings.HasPrefix(handle, "@") && len(handle) > 1:
		return ProviderVenmo, nil
	case isDigits(handle) && (len(handle) == 10 || len(handle) == 13):
		return ProviderPromptPay, nil
	default:
		return "", ErrUnknownHandle
	}
}

// Valid reports whether a handle is usable for link building. The empty
// handle is allowed here: a friend without a handle is fine, they just
// get no payment link.
func Valid(handle string) bool {
	if strings.TrimSpace(handle) == "" {
		return true
	}
	_, err := Detect(handle)
	return err == nil
}

// Build produces a payment link for the handle. Amount is optional (0 means
// "let the payer fill it in") and renders with exactly two decimals. The
// note rides along where the provider supports one.
func Build(handle string, amount float64, note string) (Link, error) {
	handle = strings.TrimSpace(handle)
	provider, err := Detect(handle)
	if err != nil {
		return Link{}, err
	}

	switch provider {
	case ProviderCashApp:
		u := "https://cash.app/" + handle
		if amount > 0 {
			u += "/" + core.FormatAmount(amount)
		}
		return Link{Provider: provider, URL: u, Payload: u}, nil

	case ProviderVenmo:
		q := url.Values{}
		q.Set("txn", "charge")
		if amount > 0 {
			q.Set("amount", core.FormatAmount(amount))
		}
		if note != "" {
			q.Set("note", note)
		}
		u := "https://venmo.com/" + strings.TrimPrefix(handle, "@") + "?" + q.Encode()
		return Link{Provider: provider, URL: u, Payload: u}, nil

	case ProviderPromptPay:
		payment := pp.PromptPay{PromptPayID: handle, Amount: amount, OneTime: true}
		payload, err := payment.Gen()
		if err != nil {
			return Link{}, fmt.Errorf("generate promptpay payload: %w", err)
		}
		return Link{Provider: provider, Payload: payload}, nil
	}

	return Link{}, ErrUnknownHandle
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
