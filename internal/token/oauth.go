package token

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kchenfs/PrepDeck/internal/domain"
)

// ClientCredentials exchanges client id/secret for an access token with the
// OAuth2 client-credentials grant.
type ClientCredentials struct {
	cfg  clientcredentials.Config
	http *http.Client
	now  func() time.Time
}

func NewClientCredentials(clientID, clientSecret, tokenURL string, scopes []string, httpClient *http.Client) *ClientCredentials {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		http: httpClient,
		now:  time.Now,
	}
}

func (c *ClientCredentials) Exchange(ctx context.Context) (Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	issued := c.now()

	tok, err := c.cfg.Token(ctx)
	if err != nil {
		return Grant{}, classify(err)
	}

	var life time.Duration
	if !tok.Expiry.IsZero() {
		life = tok.Expiry.Sub(issued)
	}
	return Grant{AccessToken: tok.AccessToken, ExpiresIn: life, IssuedAt: issued}, nil
}

// classify maps exchange failures onto AuthError kinds: anything that never
// got an answer or got a 5xx is Unreachable, a 4xx or malformed answer is
// Rejected.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return &domain.AuthError{Kind: domain.AuthUnreachable, Err: err}
		}
		return &domain.AuthError{Kind: domain.AuthRejected, Err: err}
	}

	var ue *url.Error
	var ne net.Error
	if errors.As(err, &ue) || errors.As(err, &ne) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.AuthError{Kind: domain.AuthUnreachable, Err: err}
	}
	return &domain.AuthError{Kind: domain.AuthRejected, Err: err}
}
