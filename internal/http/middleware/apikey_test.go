package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"intelreport/internal/testsupport"
)

func TestTriggerKeyAuth(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	newApp := func(key string) *fiber.App {
		app := fiber.New()
		app.Get("/run", TriggerKeyAuth(key, testsupport.GetLogger()), func(c *fiber.Ctx) error {
			return c.SendString("ran")
		})
		return app
	}

	testCases := []struct {
		name   string
		key    string
		header string
		status int
	}{
		{"valid key", "s3cret", "Bearer s3cret", fiber.StatusOK},
		{"missing header", "s3cret", "", fiber.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic s3cret", fiber.StatusUnauthorized},
		{"wrong key", "s3cret", "Bearer guess", fiber.StatusUnauthorized},
		{"unconfigured", "", "Bearer anything", fiber.StatusUnauthorized},
		{"hashed key", string(hashed), "Bearer s3cret", fiber.StatusOK},
		{"hashed key mismatch", string(hashed), "Bearer guess", fiber.StatusUnauthorized},
		{"hash sent as key", string(hashed), "Bearer " + string(hashed), fiber.StatusUnauthorized},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/run", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := newApp(tc.key).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
