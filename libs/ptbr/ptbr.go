// Package ptbr renders dates in Brazilian Portuguese for user-facing
// notification and email copy. Keeping it here isolates locale concerns
// from the booking rules, which stay locale-agnostic.
package ptbr

import (
	"fmt"
	"time"
)

var months = [12]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// Formatter implements the long date form used in notifications,
// e.g. "dia 22 de junho, às 8:40h".
type Formatter struct{}

func (Formatter) FormatLong(t time.Time) string {
	return FormatLong(t)
}

func FormatLong(t time.Time) string {
	return fmt.Sprintf("dia %02d de %s, às %d:%02dh", t.Day(), months[t.Month()-1], t.Hour(), t.Minute())
}
