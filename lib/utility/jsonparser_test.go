package utility

import (
	"encoding/json"
	"testing"
)

func TestParseJsonAs(t *testing.T) {
	type payload struct {
		OrderID string `json:"orderId"`
	}

	got, err := ParseJsonAs[payload](json.RawMessage(`{"orderId":"o-1"}`))
	if err != nil || got.OrderID != "o-1" {
		t.Errorf("ParseJsonAs() = %v, %v", got, err)
	}

	if _, err := ParseJsonAs[payload](json.RawMessage(`[`)); err == nil {
		t.Errorf("ParseJsonAs() expected error")
	}
}
