package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Default route of the OCFT admin auth extension.
const defaultOpenCartLoginRoute = "api_ocft/admin/auth/login"

// openCartTokenEnvelope is the OCFT response shape. expires_in arrives
// as a string from some extension versions and as a number from others,
// so both fields parse through json.Number.
type openCartTokenEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Tokens *struct {
			AccessToken      string      `json:"access_token"`
			RefreshToken     string      `json:"refresh_token"`
			ExpiresIn        json.Number `json:"expires_in"`
			RefreshExpiresIn json.Number `json:"refresh_expires_in"`
			TokenType        string      `json:"token_type"`
		} `json:"tokens"`
	} `json:"data"`
	Message string `json:"message"`
}

// OpenCartAuthAdapter drives the OCFT extension's login and refresh
// routes, reached through OpenCart's index.php route dispatcher.
type OpenCartAuthAdapter struct {
	baseUrl      string
	loginRoute   string
	refreshRoute string
	http         *http.Client
	logger       *logrus.Logger
}

func NewOpenCartAuthAdapter(config Config, log *logrus.Logger) (*OpenCartAuthAdapter, error) {
	if strings.TrimSpace(config.BaseUrl) == "" {
		return nil, errors.New("opencart baseUrl is required")
	}
	loginRoute := config.LoginEndpoint
	if loginRoute == "" {
		loginRoute = defaultOpenCartLoginRoute
	}
	return &OpenCartAuthAdapter{
		baseUrl:      strings.TrimRight(config.BaseUrl, "/"),
		loginRoute:   loginRoute,
		refreshRoute: config.RefreshEndpoint,
		http:         &http.Client{Timeout: 30 * time.Second},
		logger:       log,
	}, nil
}

func (a *OpenCartAuthAdapter) Login(ctx context.Context, credentials Credentials) (*TokenData, error) {
	a.logger.WithFields(logrus.Fields{
		"module":   "platform",
		"base_url": a.baseUrl,
		"username": credentials.Username,
	}).Info("logging in to opencart")

	return a.postRoute(ctx, a.loginRoute, map[string]string{
		"username": credentials.Username,
		"password": credentials.Password,
	})
}

func (a *OpenCartAuthAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenData, error) {
	if a.refreshRoute == "" {
		return nil, errors.New("refresh endpoint not configured for opencart")
	}

	a.logger.WithFields(logrus.Fields{
		"module":   "platform",
		"base_url": a.baseUrl,
	}).Info("refreshing opencart token")

	return a.postRoute(ctx, a.refreshRoute, map[string]string{
		"refresh_token": refreshToken,
	})
}

func (a *OpenCartAuthAdapter) postRoute(ctx context.Context, route string, payload map[string]string) (*TokenData, error) {
	endpoint := fmt.Sprintf("%s/index.php?route=%s", a.baseUrl, url.QueryEscape(route))

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.WithFields(logrus.Fields{
			"module":   "platform",
			"base_url": a.baseUrl,
			"status":   resp.StatusCode,
		}).Error("opencart auth request failed")
		return nil, fmt.Errorf("opencart auth failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope openCartTokenEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("opencart auth response unreadable: %w", err)
	}
	if !envelope.Success || envelope.Data.Tokens == nil {
		if envelope.Message != "" {
			return nil, fmt.Errorf("opencart auth rejected: %s", envelope.Message)
		}
		return nil, errors.New("opencart auth response invalid")
	}

	tokens := envelope.Data.Tokens
	expiresIn, _ := tokens.ExpiresIn.Int64()
	refreshExpiresIn, _ := tokens.RefreshExpiresIn.Int64()
	tokenType := tokens.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &TokenData{
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		ExpiresIn:        expiresIn,
		RefreshExpiresIn: refreshExpiresIn,
		TokenType:        tokenType,
	}, nil
}
