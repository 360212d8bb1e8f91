// Package cancelmail turns an appointment.cancelled.v1 event into the
// email sent to the provider.
package cancelmail

import (
	"errors"
	"time"

	"github.com/mvasconcelos/agendai/libs/ptbr"
)

type Party struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Payload is the event snapshot written by the appointment service.
type Payload struct {
	AppointmentID int64  `json:"appointment_id"`
	UserID        int64  `json:"user_id"`
	ProviderID    int64  `json:"provider_id"`
	Date          string `json:"date"`
	CanceledAt    string `json:"canceled_at"`
	Provider      Party  `json:"provider"`
	Customer      Party  `json:"customer"`
}

func (p Payload) Validate() error {
	if p.AppointmentID <= 0 {
		return errors.New("appointment_id missing")
	}
	if p.Provider.Email == "" {
		return errors.New("provider email missing")
	}
	if p.Provider.Name == "" || p.Customer.Name == "" {
		return errors.New("party names missing")
	}
	if _, err := time.Parse(time.RFC3339, p.Date); err != nil {
		return errors.New("invalid date")
	}
	return nil
}

// Compose builds the subject and body of the cancellation notice.
// Call Validate first; Compose assumes the payload is well-formed.
func Compose(p Payload) (subject string, body string) {
	date, _ := time.Parse(time.RFC3339, p.Date)
	subject = "Agendamento cancelado"
	body = "Olá, " + p.Provider.Name + "!\n\n" +
		"Houve um cancelamento de horário.\n\n" +
		"Cliente: " + p.Customer.Name + "\n" +
		"Data/hora: " + ptbr.FormatLong(date) + "\n\n" +
		"O horário está novamente disponível para novos agendamentos."
	return subject, body
}
