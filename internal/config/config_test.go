package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	t.Setenv("MONGODB_DATABASE", "stagepass_test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("ROUTES_ADMIN_REQUIRED", "/admin, /ops ,")
	t.Setenv("SHELL_EMBEDDED", "true")
	t.Setenv("ALLOW_INSECURE_TOKEN", " TRUE ")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "mongodb://localhost:27017/testdb", cfg.MongoDB.URI)
	require.Equal(t, "localhost", cfg.Redis.Host)
	require.Equal(t, []string{"/admin", "/ops"}, cfg.Routes.AdminRequired)
	require.Equal(t, "/login", cfg.Routes.LoginPath)
	require.Equal(t, "/signup", cfg.Routes.SignupPath)
	require.True(t, cfg.Client.ShellEmbedded)
	require.Equal(t, 10*time.Second, cfg.MongoDB.Timeout)
	require.True(t, cfg.Keycloak.AllowInsecure)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestKeycloakIssuer(t *testing.T) {
	k := KeycloakConfig{URL: "http://kc:8080/", Realm: "stagepass"}
	require.Equal(t, "http://kc:8080/realms/stagepass", k.Issuer())

	k.Realm = ""
	require.Equal(t, "http://kc:8080", k.Issuer())
}
