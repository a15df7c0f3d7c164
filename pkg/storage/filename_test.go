package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"Inspección Eléctrica #2": "Inspeccion_Electrica_2",
		"../../etc/passwd":        "etc_passwd",
		"  Mantenimiento   BMS ":  "Mantenimiento_BMS",
		"Año_2024":                "Ano_2024",
		"":                        "",
	}
	for input, want := range cases {
		assert.Equal(t, want, SecureFilename(input), input)
	}
}
