package cmd

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionkeeper/internal/config"
	"github.com/jmcleod/sessionkeeper/internal/fakeauth"
	"github.com/jmcleod/sessionkeeper/session"
	"github.com/jmcleod/sessionkeeper/storage"
	"github.com/jmcleod/sessionkeeper/storage/memory"
)

func setupEnv(t *testing.T) (*fakeauth.Server, string) {
	t.Helper()
	fake := fakeauth.New()
	srv := httptest.NewServer(fake.Router())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("SESSIONKEEPER_API_BASE_URL", srv.URL)
	t.Setenv("SESSIONKEEPER_STORAGE_DIR", dir)
	t.Setenv("SESSIONKEEPER_LOG_LEVEL", "error")
	configPath = ""
	return fake, dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

func login(t *testing.T) {
	t.Helper()
	loginCPF = ""
	out, err := run(t, "login", "--email", fakeauth.DemoUser.Email, "--password", fakeauth.DemoUser.Password)
	require.NoError(t, err, out)
	require.Contains(t, out, "Logged in as demo@example.com")
}

func TestSessionCommands(t *testing.T) {
	fake, _ := setupEnv(t)

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:     anonymous")

	login(t)

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:     active")
	assert.Contains(t, out, "Freshness: fresh")
	assert.Contains(t, out, "ROLE_USER")

	out, err = run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "demo@example.com [ROLE_USER]")

	out, err = run(t, "get", "/api/ping")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)

	out, err = run(t, "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Token refreshed")
	assert.Equal(t, 1, fake.Refreshes())

	out, err = run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:     anonymous")

	_, err = run(t, "whoami")
	require.Error(t, err)
	assert.Equal(t, session.MessageLoginAgain, err.Error())
}

func TestLoginRejected(t *testing.T) {
	setupEnv(t)

	loginCPF = ""
	_, err := run(t, "login", "--email", fakeauth.DemoUser.Email, "--password", "wrong")
	require.Error(t, err)
	assert.Equal(t, session.MessageInvalidCredentials, err.Error())

	loginEmail = ""
	_, err = run(t, "login", "--password", "x")
	require.Error(t, err)
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	setupEnv(t)
	loginCPF, loginPassword = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(fakeauth.DemoUser.Password + "\n"))
	rootCmd.SetArgs([]string{"login", "--email", fakeauth.DemoUser.Email})
	require.NoError(t, rootCmd.ExecuteContext(t.Context()), out.String())
	assert.Contains(t, out.String(), "Logged in as")
}

func TestGetRecoversFromRevokedToken(t *testing.T) {
	fake, _ := setupEnv(t)
	login(t)
	fake.RevokeAll()

	out, err := run(t, "get", "--metrics", "/api/ping")
	require.Error(t, err)
	assert.Equal(t, session.MessageLoginAgain, err.Error())
	assert.Contains(t, out, "sessionkeeper_forced_logouts_total 1")
	showMetrics = false

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:     anonymous")
}

func TestPrefsAndDraftCommands(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "prefs", "get")
	require.NoError(t, err)
	assert.Contains(t, out, `"theme": "light"`)
	assert.Contains(t, out, `"language": "pt-BR"`)

	out, err = run(t, "prefs", "set", "--theme", "dark", "--notifications=false")
	require.NoError(t, err)
	assert.Contains(t, out, `"theme": "dark"`)
	assert.Contains(t, out, `"notifications": false`)
	prefTheme = ""

	out, err = run(t, "prefs", "get")
	require.NoError(t, err)
	assert.Contains(t, out, `"theme": "dark"`)
	assert.Contains(t, out, `"autoSave": true`)

	out, err = run(t, "prefs", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, `"theme": "light"`)

	out, err = run(t, "draft", "save", "signup", `{"name":"Ana"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `Draft "signup" saved`)

	out, err = run(t, "draft", "show", "signup")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Ana"`)

	_, err = run(t, "draft", "rm", "signup")
	require.NoError(t, err)
	_, err = run(t, "draft", "show", "signup")
	require.Error(t, err)

	_, err = run(t, "draft", "save", "signup", `{broken`)
	require.Error(t, err)
}

func TestOpenAppEncrypted(t *testing.T) {
	_, dir := setupEnv(t)
	t.Setenv("SESSIONKEEPER_SECURITY_PASSPHRASE", "correct horse battery staple")
	login(t)

	salt, err := os.ReadFile(filepath.Join(dir, saltFile))
	require.NoError(t, err)
	assert.Len(t, salt, saltLength)

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:     active")

	t.Setenv("SESSIONKEEPER_SECURITY_PASSPHRASE", "wrong passphrase")
	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:     anonymous", "a different key cannot open the token")
}

func TestLoadSalt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "salt")
	first, err := loadSalt(path)
	require.NoError(t, err)
	second, err := loadSalt(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))
	_, err = loadSalt(path)
	require.Error(t, err)
}

func TestOpenAppRejectsUnreachableRedis(t *testing.T) {
	c := config.Default()
	c.Storage.Dir = t.TempDir()
	c.Storage.Persistent = config.DriverRedis
	c.Storage.RedisAddr = "127.0.0.1:1"

	_, err := openApp(t.Context(), &c, slog.Default())
	require.Error(t, err)
}

func TestOpenDriversClosesVolatileOnFailure(t *testing.T) {
	ctx := t.Context()

	t.Run("Bolt", func(t *testing.T) {
		c := config.Default()
		c.Storage.Dir = t.TempDir()
		// A directory where the database file should be cannot be opened.
		require.NoError(t, os.Mkdir(filepath.Join(c.Storage.Dir, "persistent.db"), 0o700))

		volatile := memory.NewDriver()
		_, err := openDrivers(ctx, &c, volatile)
		require.Error(t, err)
		_, err = volatile.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrUnavailable, "volatile driver must be closed")
	})

	t.Run("Redis", func(t *testing.T) {
		c := config.Default()
		c.Storage.Persistent = config.DriverRedis
		c.Storage.RedisAddr = "127.0.0.1:1"

		volatile := memory.NewDriver()
		_, err := openDrivers(ctx, &c, volatile)
		require.Error(t, err)
		_, err = volatile.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrUnavailable, "volatile driver must be closed")
	})
}
