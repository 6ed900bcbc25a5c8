package outlook

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Scopes requested at consent. offline_access is what makes Azure AD issue a
// refresh token.
var Scopes = []string{"offline_access", "https://graph.microsoft.com/Calendars.ReadWrite"}

// OAuthConfig returns the authorization-code client for the given Azure AD
// tenant ("common" accepts personal and work accounts).
func OAuthConfig(clientID, clientSecret, tenant, redirectURL string) *oauth2.Config {
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
	}
}
