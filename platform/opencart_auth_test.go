package platform

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
)

func testAuthAdapter(t *testing.T, config Config) *OpenCartAuthAdapter {
	t.Helper()
	adapter, err := NewOpenCartAuthAdapter(config, testLogger())
	if err != nil {
		t.Fatalf("build auth adapter: %v", err)
	}
	httpmock.ActivateNonDefault(adapter.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return adapter
}

func TestOpenCartAuth_LoginParsesStringExpiry(t *testing.T) {
	adapter := testAuthAdapter(t, Config{BaseUrl: testBaseUrl})

	// Some OCFT versions send expires_in as a string, others as a number.
	httpmock.RegisterResponder(http.MethodPost,
		testBaseUrl+"/index.php?route="+strings.ReplaceAll(defaultOpenCartLoginRoute, "/", "%2F"),
		httpmock.NewStringResponder(http.StatusOK, `{
			"success": true,
			"data": {"tokens": {
				"access_token": "abc",
				"refresh_token": "def",
				"expires_in": "3600",
				"refresh_expires_in": 86400
			}}
		}`))

	tokens, err := adapter.Login(context.Background(), Credentials{Username: "sync", Password: "pw"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tokens.AccessToken != "abc" || tokens.RefreshToken != "def" {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if tokens.ExpiresIn != 3600 || tokens.RefreshExpiresIn != 86400 {
		t.Fatalf("expected both expiry forms to parse, got %d/%d", tokens.ExpiresIn, tokens.RefreshExpiresIn)
	}
	if tokens.TokenType != "Bearer" {
		t.Fatalf("expected Bearer default, got %q", tokens.TokenType)
	}
}

func TestOpenCartAuth_RejectionCarriesMessage(t *testing.T) {
	adapter := testAuthAdapter(t, Config{BaseUrl: testBaseUrl})

	httpmock.RegisterResponder(http.MethodPost,
		testBaseUrl+"/index.php?route="+strings.ReplaceAll(defaultOpenCartLoginRoute, "/", "%2F"),
		httpmock.NewStringResponder(http.StatusOK, `{"success": false, "message": "invalid api credentials"}`))

	_, err := adapter.Login(context.Background(), Credentials{Username: "sync", Password: "bad"})
	if err == nil {
		t.Fatal("expected a rejection error")
	}
	if !strings.Contains(err.Error(), "invalid api credentials") {
		t.Fatalf("expected the platform message to surface, got %v", err)
	}
}

func TestOpenCartAuth_RefreshRequiresEndpoint(t *testing.T) {
	adapter := testAuthAdapter(t, Config{BaseUrl: testBaseUrl})

	if _, err := adapter.Refresh(context.Background(), "def"); err == nil {
		t.Fatal("expected an error without a refresh endpoint configured")
	}
}
