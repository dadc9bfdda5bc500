package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetAllowedOriginsFromEnv(t *testing.T) {
	t.Run("splits a comma-separated list", func(t *testing.T) {
		t.Setenv("DICE_TEST_ORIGINS", "http://localhost:3000,https://play.dicearena.example")

		origins := GetAllowedOriginsFromEnv("DICE_TEST_ORIGINS", []string{"http://fallback"})

		assert.Equal(t, []string{"http://localhost:3000", "https://play.dicearena.example"}, origins)
	})

	t.Run("falls back to defaults when unset", func(t *testing.T) {
		defaults := []string{"http://localhost:3000", "http://localhost:5173"}

		origins := GetAllowedOriginsFromEnv("DICE_TEST_ORIGINS_UNSET", defaults)

		assert.Equal(t, defaults, origins)
	})
}
