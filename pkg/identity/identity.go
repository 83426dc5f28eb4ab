// Package identity implements the Microsoft Graph identity collaborator:
// the source of truth for an employee's corporate email address when it
// differs from (or is missing from) the payroll extract.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/iius-rcox/safetyamp-sync/internal/syncerrors"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Client resolves an employee number to its Microsoft Graph user
// record. Implementations include GraphClient (production) and
// StaticClient (tests / dev).
type Client interface {
	LookupByEmployeeID(ctx context.Context, employeeNo string) (*User, error)
}

// User is the subset of a Graph user object the reconciler consumes.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	EmployeeID        string `json:"employeeId"`
}

type graphPage struct {
	Value    []User `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// GraphClient queries Microsoft Graph using the client-credentials
// OAuth2 flow.
type GraphClient struct {
	http *http.Client
}

// NewGraphClient builds a GraphClient authenticated against tenantID
// with the given application client credentials.
func NewGraphClient(tenantID, clientID, clientSecret string) *GraphClient {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return &GraphClient{http: cfg.Client(context.Background())}
}

// LookupByEmployeeID filters the Graph /users collection on the
// employeeId extension attribute, following @odata.nextLink until the
// first match or the collection is exhausted.
func (g *GraphClient) LookupByEmployeeID(ctx context.Context, employeeNo string) (*User, error) {
	path := fmt.Sprintf("%s/users?$filter=employeeId eq '%s'&$select=id,displayName,mail,userPrincipalName,employeeId", graphBaseURL, employeeNo)

	for path != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, &syncerrors.UnexpectedError{Cause: err}
		}
		resp, err := g.http.Do(req)
		if err != nil {
			return nil, &syncerrors.NetworkError{Service: "graph", Cause: err}
		}

		var page graphPage
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, &syncerrors.HTTPError{StatusCode: resp.StatusCode, Service: "graph", Endpoint: "/users"}
		}
		if decodeErr != nil {
			return nil, &syncerrors.UnexpectedError{Cause: decodeErr}
		}

		if len(page.Value) > 0 {
			return &page.Value[0], nil
		}
		path = page.NextLink
	}
	return nil, nil
}

// StaticClient is an in-memory Client keyed by employee number, used
// in tests and when Microsoft Graph credentials are not configured.
type StaticClient struct {
	Users map[string]User
}

func (s StaticClient) LookupByEmployeeID(_ context.Context, employeeNo string) (*User, error) {
	if u, ok := s.Users[employeeNo]; ok {
		return &u, nil
	}
	return nil, nil
}
