package dian

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
)

// primos del módulo 11 de la DIAN, aplicados de derecha a izquierda sobre el NIT sin DV.
var nitPrimes = [...]int{3, 7, 13, 17, 19, 23, 29, 37, 41, 43, 47, 53, 59, 67, 71}

// ErrNIT NIT vacío, demasiado largo o con dígito de verificación incorrecto.
var ErrNIT = errors.New("dian: NIT inválido")

// VerificationDigit calcula el DV del NIT. Ignora puntos, guiones y espacios.
func VerificationDigit(nit string) (int, error) {
	digits := onlyNITDigits(nit)
	if len(digits) == 0 {
		return 0, fmt.Errorf("%w: no contiene dígitos", ErrNIT)
	}
	if len(digits) > len(nitPrimes) {
		return 0, fmt.Errorf("%w: máximo %d dígitos, se recibieron %d", ErrNIT, len(nitPrimes), len(digits))
	}
	sum := 0
	for i := range digits {
		d := digits[len(digits)-1-i]
		sum += int(d-'0') * nitPrimes[i]
	}
	r := sum % 11
	if r > 1 {
		return 11 - r, nil
	}
	return r, nil
}

// CheckVerificationDigit compara dv con el DV calculado para nit.
func CheckVerificationDigit(nit, dv string) error {
	want, err := VerificationDigit(nit)
	if err != nil {
		return err
	}
	got, err := strconv.Atoi(dv)
	if err != nil || got != want {
		return fmt.Errorf("%w: dígito de verificación esperado %d, recibido %q", ErrNIT, want, dv)
	}
	return nil
}

func onlyNITDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, byte(r))
		}
	}
	return out
}
