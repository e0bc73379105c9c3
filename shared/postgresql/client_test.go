package postgresql

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantUser string
		wantPass string
		wantSSL  string
	}{
		{
			name:     "plain credentials",
			config:   Config{Host: "db", Port: 5432, User: "detect", Password: "secret", Database: "detect", SSLMode: "require"},
			wantUser: "detect",
			wantPass: "secret",
			wantSSL:  "require",
		},
		{
			name:     "password needing escapes",
			config:   Config{Host: "db", Port: 5432, User: "detect", Password: "p@ss w/rd", Database: "detect"},
			wantUser: "detect",
			wantPass: "p@ss w/rd",
			wantSSL:  "disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.config.DSN())
			require.NoError(t, err)

			assert.Equal(t, "postgres", u.Scheme)
			assert.Equal(t, "db:5432", u.Host)
			assert.Equal(t, "/detect", u.Path)
			assert.Equal(t, tt.wantUser, u.User.Username())
			pass, _ := u.User.Password()
			assert.Equal(t, tt.wantPass, pass)
			assert.Equal(t, tt.wantSSL, u.Query().Get("sslmode"))
		})
	}
}
