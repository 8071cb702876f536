package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatError indica um token de período inválido
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid period %q: %s", e.Value, e.Reason)
}

var periodUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParsePeriod converte um token compacto ("1s", "15m", "12h", "7d") em duração.
// A unidade é o último caractere (sem diferenciar maiúsculas) e o prefixo deve
// ser um número real positivo.
func ParsePeriod(value string) (time.Duration, error) {
	if len(value) < 2 {
		return 0, &FormatError{Value: value, Reason: "must have a numeric value followed by a unit"}
	}

	unitChar := strings.ToLower(value[len(value)-1:])[0]
	unit, ok := periodUnits[unitChar]
	if !ok {
		return 0, &FormatError{Value: value, Reason: fmt.Sprintf("unknown unit %q", value[len(value)-1:])}
	}

	amount, err := strconv.ParseFloat(value[:len(value)-1], 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, &FormatError{Value: value, Reason: "value is not a number"}
	}
	if amount <= 0 {
		return 0, &FormatError{Value: value, Reason: "value must be greater than 0"}
	}

	duration := time.Duration(amount * float64(unit))
	if duration <= 0 {
		return 0, &FormatError{Value: value, Reason: "duration is too small"}
	}

	return duration, nil
}
