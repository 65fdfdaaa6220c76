package automation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/mapping"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig(&common.AutomationConfig{BaseURL: "https://target.example.com/"})

	assert.Equal(t, "https://target.example.com", cfg.BaseURL)
	assert.Equal(t, "https://target.example.com/login", cfg.LoginURL)
	assert.Equal(t, DefaultActionTimeout, cfg.ActionTimeout)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, 1920, cfg.WindowWidth)
	assert.Equal(t, 1080, cfg.WindowHeight)
	assert.Equal(t, "https://target.example.com/customers/add", cfg.FormURL("/customers/add"))
}

func TestSession_NotLaunched(t *testing.T) {
	s := NewSession(Config{}, arbor.NewLogger())
	ctx := context.Background()

	err := s.NavigateTo(ctx, "http://localhost/")
	assert.True(t, errors.Is(err, models.ErrNavigation))

	err = s.Authenticate(ctx, interfaces.Credentials{Username: "u", Password: "p"})
	assert.True(t, errors.Is(err, models.ErrAuthentication))

	result, err := s.SubmitRow(ctx, models.MappedRow{RowNumber: 2}, &models.MappingRule{})
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, models.ErrAutomation))
}

func TestSession_CloseIdempotent(t *testing.T) {
	s := NewSession(Config{}, arbor.NewLogger())

	assert.NotPanics(t, func() {
		s.Close()
		s.Close()
	})
	assert.Equal(t, StateClosed, s.State())

	err := s.Launch(context.Background())
	assert.True(t, errors.Is(err, models.ErrLaunch))
}

func TestFieldOrder(t *testing.T) {
	rule := &models.MappingRule{
		RequiredFields: []string{"name", "email"},
		OptionalFields: []string{"notes", "unlocated"},
		Locators: map[string][]string{
			"email": {"#email"},
			"name":  {"#name"},
			"notes": {"#notes"},
			"extra": {"#extra"},
		},
	}
	assert.Equal(t, []string{"name", "email", "notes", "extra"}, fieldOrder(rule))
}

// findChrome returns a browser binary or skips the test
func findChrome(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome binary available")
	return ""
}

// targetServer is a minimal form-driven app with a login page
func targetServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if r.FormValue("username") == "admin" && r.FormValue("password") == "secret" {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
				http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
				return
			}
			fmt.Fprint(w, `<html><body><p class="error">Invalid login</p></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><form method="post" action="/login">
<input name="username"><input type="password" name="password">
<button type="submit">Sign in</button></form></body></html>`)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/logout">Logout</a><div class="dashboard"></div></body></html>`)
	})
	mux.HandleFunc("/customers/add", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if r.FormValue("customer_name") != "" && r.FormValue("email") != "" {
				fmt.Fprintf(w, `<html><body><div class="success-message">Customer %s created</div></body></html>`, r.FormValue("customer_name"))
				return
			}
			fmt.Fprint(w, `<html><body><p>Please fill in all fields</p></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><form method="post" action="/customers/add">
<input name="customer_name"><input name="email"><input type="tel" name="phone">
<select name="notes"><option value="">-</option><option value="VIP">VIP</option></select>
<button type="submit">Save</button></form></body></html>`)
	})
	return httptest.NewServer(mux)
}

func TestSession_EndToEnd(t *testing.T) {
	chrome := findChrome(t)
	srv := targetServer()
	defer srv.Close()

	s := NewSession(Config{
		BaseURL:          srv.URL,
		Credentials:      interfaces.Credentials{Username: "admin", Password: "secret"},
		Headless:         true,
		ActionTimeout:    10 * time.Second,
		LoginWaitTimeout: 5 * time.Second,
		SettleDelay:      100 * time.Millisecond,
		ExecPath:         chrome,
	}, arbor.NewLogger())
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Launch(ctx))
	assert.Equal(t, StateLaunched, s.State())

	rule, err := mapping.NewRegistry(arbor.NewLogger()).Resolve("Customers.Basic")
	require.NoError(t, err)

	// Lazily authenticates with the configured credentials
	require.NoError(t, s.NavigateTo(ctx, srv.URL+rule.FormPath))
	assert.Equal(t, StateAuthenticated, s.State())

	result, err := s.SubmitRow(ctx, models.MappedRow{RowNumber: 2, Values: map[string]string{
		"name": "Alice", "email": "alice@example.com", "phone": "555", "notes": "VIP", "ignored": "x",
	}}, rule)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.ElementsMatch(t, []string{"name", "email", "phone", "notes"}, result.FieldsFilled)

	require.NoError(t, s.NavigateTo(ctx, srv.URL+rule.FormPath))
	result, err = s.SubmitRow(ctx, models.MappedRow{RowNumber: 3, Values: map[string]string{"phone": "555"}}, rule)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ReasonNoSuccessIndicator, result.Reason)

	s.Close()
	s.Close()
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_AuthenticationFails(t *testing.T) {
	chrome := findChrome(t)
	srv := targetServer()
	defer srv.Close()

	s := NewSession(Config{
		BaseURL:          srv.URL,
		Headless:         true,
		ActionTimeout:    10 * time.Second,
		LoginWaitTimeout: 5 * time.Second,
		SettleDelay:      100 * time.Millisecond,
		ExecPath:         chrome,
	}, arbor.NewLogger())
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Launch(ctx))

	err := s.Authenticate(ctx, interfaces.Credentials{Username: "admin", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAuthentication))
	assert.Equal(t, StateLaunched, s.State())
}
