package models

import (
	"bytes"
	"encoding/json"
)

// Gateway wire format: every call answers with {"data": {...}, "errors": ...}.

type GatewayRequestBody struct {
	MerchantID  string            `json:"merchant_id"`
	Amount      int64             `json:"amount"`
	CallbackURL string            `json:"callback_url"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type GatewayVerifyBody struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

type GatewayData struct {
	Code      int        `json:"code"`
	Message   string     `json:"message,omitempty"`
	Authority string     `json:"authority,omitempty"`
	RefID     FlexString `json:"ref_id,omitempty"`
	CardPan   string     `json:"card_pan,omitempty"`
	CardHash  string     `json:"card_hash,omitempty"`
	FeeType   string     `json:"fee_type,omitempty"`
	Fee       int64      `json:"fee,omitempty"`
}

type GatewayResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

// Payload decodes the data object. The gateway sends an empty array instead of
// an object when the call failed, which yields a nil payload.
func (r *GatewayResponse) Payload() (*GatewayData, error) {
	d := bytes.TrimSpace(r.Data)
	if len(d) == 0 || d[0] != '{' {
		return nil, nil
	}
	var data GatewayData
	if err := json.Unmarshal(d, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FlexString accepts a JSON string or number; the gateway sends ref_id as a number.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// DomainEvent is published to Kafka whenever a registration or payment settles.
type DomainEvent struct {
	Type           string `json:"type"`
	EventID        int64  `json:"event_id"`
	UserID         string `json:"user_id"`
	RegistrationID int64  `json:"registration_id,omitempty"`
	PaymentID      int64  `json:"payment_id,omitempty"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount,omitempty"`
	RefID          string `json:"ref_id,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}
