package payments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body
const SignatureHeader = "X-Paystack-Signature"

// VerifySignature checks the HMAC-SHA512 of body under secret against the hex signature
func VerifySignature(secret string, body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(given, Sign(secret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the HMAC-SHA512 of body under secret
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// webhookBody is the envelope providers post: an event name and its data object
type webhookBody struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// ParseEvent decodes a webhook body into an Event.
// The event ID is the data object's id, or the event type and reference when it has none.
func ParseEvent(provider string, body []byte) (*Event, error) {
	var wb webhookBody
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&wb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if wb.Event == "" {
		return nil, ErrMissingEventType
	}
	if provider == "" {
		provider = DefaultProvider
	}

	event := &Event{
		Provider:  provider,
		Type:      wb.Event,
		Reference: stringField(wb.Data, "reference"),
		Reason:    stringField(wb.Data, "reason"),
		Payload:   wb.Data,
	}

	event.EventID = stringField(wb.Data, "id")
	if event.EventID == "" && event.Reference != "" {
		event.EventID = event.Type + ":" + event.Reference
	}
	if event.EventID == "" {
		return nil, ErrMissingEventID
	}

	return event, nil
}

func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
