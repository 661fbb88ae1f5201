package bootstrap

import (
	"context"
	"strings"
	"testing"

	"github.com/netsblox/cloud-go/internal/config"
)

func TestRunFirstInitValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  string
	}{
		{
			name:    "missing credentials",
			wantErr: "INIT_ADMIN_USERNAME and INIT_ADMIN_PASSWORD must be set",
		},
		{
			name:     "missing password",
			username: "admin",
			wantErr:  "INIT_ADMIN_USERNAME and INIT_ADMIN_PASSWORD must be set",
		},
		{
			name:     "invalid username",
			username: "_admin",
			password: "secret",
			wantErr:  "not a valid username",
		},
		{
			name:     "invalid email",
			username: "admin",
			email:    "not-an-email",
			password: "secret",
			wantErr:  "invalid INIT_ADMIN_EMAIL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{
				InitAdminUsername: tt.username,
				InitAdminEmail:    tt.email,
				InitAdminPassword: tt.password,
			}

			// Validation failures return before the pool is touched.
			err := RunFirstInit(context.Background(), nil, cfg)
			if err == nil {
				t.Fatal("RunFirstInit() should fail validation")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("RunFirstInit() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}
