package cancelmail

import (
	"encoding/json"
	"strings"
	"testing"
)

func validPayload() Payload {
	return Payload{
		AppointmentID: 9,
		UserID:        1,
		ProviderID:    2,
		Date:          "2026-09-02T10:00:00Z",
		CanceledAt:    "2026-09-01T12:00:00Z",
		Provider:      Party{Name: "Bia", Email: "bia@example.com"},
		Customer:      Party{Name: "Ana"},
	}
}

func TestPayload_Validate(t *testing.T) {
	if err := validPayload().Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	p := validPayload()
	p.Provider.Email = ""
	if err := p.Validate(); err == nil {
		t.Fatal("missing provider email must be rejected")
	}

	p = validPayload()
	p.Date = "02/09/2026"
	if err := p.Validate(); err == nil {
		t.Fatal("non-RFC3339 date must be rejected")
	}

	p = validPayload()
	p.AppointmentID = 0
	if err := p.Validate(); err == nil {
		t.Fatal("missing appointment id must be rejected")
	}
}

func TestPayload_DecodesEventShape(t *testing.T) {
	raw := `{
		"appointment_id": 9,
		"user_id": 1,
		"provider_id": 2,
		"date": "2026-09-02T10:00:00Z",
		"canceled_at": "2026-09-01T12:00:00Z",
		"provider": {"name": "Bia", "email": "bia@example.com"},
		"customer": {"name": "Ana"}
	}`
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("decoded payload invalid: %v", err)
	}
}

func TestCompose(t *testing.T) {
	subject, body := Compose(validPayload())
	if subject != "Agendamento cancelado" {
		t.Fatalf("subject = %q", subject)
	}
	for _, want := range []string{"Bia", "Ana", "dia 02 de setembro, às 10:00h"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}
