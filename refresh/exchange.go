package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/jrsteele09/go-elearn-client/apiclient"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/pkg/errors"
)

// Exchanger trades the refresh credential for a new access token. An empty
// refreshToken means the credential travels as a cookie.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (*apimodel.LoginResponse, error)
}

// HTTPExchanger calls POST /auth/refresh on a client that has no 401
// recovery installed, so a rejected refresh can never recurse.
type HTTPExchanger struct {
	client *http.Client
	url    string
}

var _ Exchanger = (*HTTPExchanger)(nil)

// NewHTTPExchanger builds an exchanger against baseURL. The client should
// share its cookie jar with the API client when refresh cookies are used.
func NewHTTPExchanger(baseURL string, client *http.Client) (*HTTPExchanger, error) {
	if client == nil {
		return nil, errors.New("[NewHTTPExchanger] http client is required")
	}
	base, err := apiclient.ParseBaseURL(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewHTTPExchanger] apiclient.ParseBaseURL")
	}
	base.Path += apimodel.RouteAuthRefresh
	return &HTTPExchanger{client: client, url: base.String()}, nil
}

func (e *HTTPExchanger) Exchange(ctx context.Context, refreshToken string) (*apimodel.LoginResponse, error) {
	raw, err := json.Marshal(apimodel.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPExchanger.Exchange] json.Marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPExchanger.Exchange] http.NewRequestWithContext")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPExchanger.Exchange] client.Do")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPExchanger.Exchange] io.ReadAll")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiclient.NewAPIError(resp.StatusCode, http.MethodPost, apimodel.RouteAuthRefresh, body)
	}

	envelope := apimodel.Response[apimodel.LoginResponse]{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "[HTTPExchanger.Exchange] json.Unmarshal")
	}
	if envelope.Data == nil || envelope.Data.AccessToken == "" {
		return nil, errors.Wrap(clienterrors.ErrMissingToken, "[HTTPExchanger.Exchange]")
	}
	return envelope.Data, nil
}
