package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mescon/desup/internal/logger"
)

// oboGrantType is the OAuth2 assertion grant used for the on-behalf-of flow.
const oboGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// DelegationError is returned when the identity provider refuses the
// on-behalf-of exchange (consent revoked, conditional access, expired or
// already-consumed assertion) or cannot be reached.
type DelegationError struct {
	// Code is the provider's error code, e.g. "invalid_grant". Empty for
	// transport failures.
	Code        string
	Description string
	Err         error
}

func (e *DelegationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("delegated token exchange refused (%s): %s", e.Code, e.Description)
	}
	return fmt.Sprintf("delegated token exchange failed: %v", e.Err)
}

func (e *DelegationError) Unwrap() error { return e.Err }

// OBODelegator performs the identity provider's on-behalf-of exchange for a
// confidential client. Safe for concurrent use; holds no per-request state.
type OBODelegator struct {
	authorityBase string
	tenantID      string
	clientID      string
	clientSecret  string
	httpClient    *http.Client
}

var _ Delegator = (*OBODelegator)(nil)

// NewOBODelegator creates a delegator for the given confidential client.
func NewOBODelegator(authorityBase, tenantID, clientID, clientSecret string, timeout time.Duration) *OBODelegator {
	return &OBODelegator{
		authorityBase: strings.TrimSuffix(authorityBase, "/"),
		tenantID:      tenantID,
		clientID:      clientID,
		clientSecret:  clientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// tokenResponse is the provider's token endpoint response. Only the fields we
// read are declared.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeOnBehalfOf exchanges the inbound assertion for a credential scoped
// to the downstream service. No retry: the assertion is single-use.
func (d *OBODelegator) ExchangeOnBehalfOf(ctx context.Context, assertion, scope string) (string, error) {
	form := url.Values{
		"client_id":           {d.clientID},
		"client_secret":       {d.clientSecret},
		"grant_type":          {oboGrantType},
		"assertion":           {assertion},
		"scope":               {scope},
		"requested_token_use": {"on_behalf_of"},
	}

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", d.authorityBase, d.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &DelegationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", &DelegationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &DelegationError{Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &DelegationError{Err: fmt.Errorf("unexpected token response (status %d): %w", resp.StatusCode, err)}
	}

	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		// Error codes are safe to log; tokens and assertions are not.
		logger.Debugf("On-behalf-of exchange refused for scope %s: %s", scope, tr.Error)
		return "", &DelegationError{Code: tr.Error, Description: tr.ErrorDescription}
	}

	return tr.AccessToken, nil
}
