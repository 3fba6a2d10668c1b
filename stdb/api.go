package stdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
)

// The http collaborator. Everything the server exposes outside the
// websocket lives under /v1: the schema descriptor, identity management,
// http reducer calls, sql, and database info.

var (
	ErrApiConnectionFailed = errors.New("api: connection failed")
	ErrRequestFailed       = errors.New("api: request failed")
	ErrInvalidResponse     = errors.New("api: invalid response")
	ErrUnauthorized        = errors.New("api: unauthorized")
	ErrNotFound            = errors.New("api: not found")
	ErrServerError         = errors.New("api: server error")
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// HttpResponse is the status and body of one exchange.
type HttpResponse struct {
	Status int
	Body   []byte
}

type Api struct {
	ctx    context.Context
	cancel context.CancelFunc

	// e.g. http://localhost:3000
	baseUrl string

	token string

	client *http.Client
}

func NewApi(baseUrl string) *Api {
	return NewApiWithContext(context.Background(), baseUrl)
}

func NewApiWithContext(ctx context.Context, baseUrl string) *Api {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Api{
		ctx:     cancelCtx,
		cancel:  cancel,
		baseUrl: baseUrl,
		client:  defaultClient(),
	}
}

// SetToken attaches a bearer token to subsequent calls.
func (self *Api) SetToken(token string) {
	self.token = token
}

func (self *Api) do(method string, url string, body []byte, contentType string) (*HttpResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(self.ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if contentType != "" {
		req.Header.Add("Content-Type", contentType)
	}
	if self.token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", self.token))
	}
	r, err := self.client.Do(req)
	if err != nil {
		glog.Infof("[api]%s %s error = %s\n", method, url, err)
		return nil, fmt.Errorf("%w: %v", ErrApiConnectionFailed, err)
	}
	defer r.Body.Close()
	responseBody, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	glog.V(2).Infof("[api]%s %s = %d\n", method, url, r.StatusCode)
	return &HttpResponse{
		Status: r.StatusCode,
		Body:   responseBody,
	}, nil
}

func (self *Api) Get(url string) (*HttpResponse, error) {
	return self.do("GET", url, nil, "")
}

func (self *Api) Post(url string, body []byte, contentType string) (*HttpResponse, error) {
	return self.do("POST", url, body, contentType)
}

// statusError maps a non-2xx status to the error taxonomy.
func statusError(response *HttpResponse) error {
	switch {
	case 200 <= response.Status && response.Status < 300:
		return nil
	case response.Status == http.StatusUnauthorized || response.Status == http.StatusForbidden:
		return ErrUnauthorized
	case response.Status == http.StatusNotFound:
		return ErrNotFound
	case 500 <= response.Status:
		return fmt.Errorf("%w: %d", ErrServerError, response.Status)
	default:
		return fmt.Errorf("%w: %d", ErrRequestFailed, response.Status)
	}
}

// GetSchema fetches and parses the database's schema descriptor.
func (self *Api) GetSchema(database string) (*Schema, error) {
	url := fmt.Sprintf("%s/v1/database/%s/schema?version=9", self.baseUrl, database)
	response, err := self.Get(url)
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	return ParseSchema(response.Body)
}

// IdentityCredentials is a freshly issued identity and its token.
type IdentityCredentials struct {
	Identity string `json:"identity"`
	Token    string `json:"token"`
}

// CreateIdentity asks the server to mint a new identity.
func (self *Api) CreateIdentity() (*IdentityCredentials, error) {
	url := fmt.Sprintf("%s/v1/identity", self.baseUrl)
	response, err := self.Post(url, nil, "")
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	credentials := &IdentityCredentials{}
	if err := json.Unmarshal(response.Body, credentials); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return credentials, nil
}

// VerifyIdentity checks the configured token against an identity. Nil
// means the server accepted it.
func (self *Api) VerifyIdentity(identity string) error {
	url := fmt.Sprintf("%s/v1/identity/%s/verify", self.baseUrl, identity)
	response, err := self.Get(url)
	if err != nil {
		return err
	}
	return statusError(response)
}

// GetPublicKey fetches the server's token signing key.
func (self *Api) GetPublicKey() ([]byte, error) {
	url := fmt.Sprintf("%s/v1/identity/public-key", self.baseUrl)
	response, err := self.Get(url)
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	return response.Body, nil
}

// GetDatabases lists the databases owned by an identity.
func (self *Api) GetDatabases(identity string) ([]string, error) {
	url := fmt.Sprintf("%s/v1/identity/%s/databases", self.baseUrl, identity)
	response, err := self.Get(url)
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	var result struct {
		Databases []string `json:"databases"`
	}
	if err := json.Unmarshal(response.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return result.Databases, nil
}

// CreateWebsocketToken mints a short lived token for the subscribe
// endpoint.
func (self *Api) CreateWebsocketToken() (string, error) {
	url := fmt.Sprintf("%s/v1/identity/websocket-token", self.baseUrl)
	response, err := self.Post(url, nil, "")
	if err != nil {
		return "", err
	}
	if err := statusError(response); err != nil {
		return "", err
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(response.Body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return result.Token, nil
}

// CallReducer invokes a reducer over http with json args.
func (self *Api) CallReducer(database string, reducer string, argsJson []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/database/%s/call/%s", self.baseUrl, database, reducer)
	response, err := self.Post(url, argsJson, "application/json")
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	return response.Body, nil
}

// CallReducerBsatn invokes a reducer over http with bsatn args.
func (self *Api) CallReducerBsatn(database string, reducer string, args []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/database/%s/call/%s", self.baseUrl, database, reducer)
	response, err := self.Post(url, args, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	return response.Body, nil
}

// Sql runs one sql statement over http.
func (self *Api) Sql(database string, query string) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/database/%s/sql", self.baseUrl, database)
	response, err := self.Post(url, []byte(query), "text/plain")
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	return response.Body, nil
}

// DatabaseInfo fetches the database descriptor.
func (self *Api) DatabaseInfo(database string) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/database/%s", self.baseUrl, database)
	response, err := self.Get(url)
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	return response.Body, nil
}

// DatabaseNames lists the registered names of a database.
func (self *Api) DatabaseNames(database string) ([]string, error) {
	url := fmt.Sprintf("%s/v1/database/%s/names", self.baseUrl, database)
	response, err := self.Get(url)
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	var result struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal(response.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return result.Names, nil
}

// DatabaseIdentity fetches the identity a database runs as.
func (self *Api) DatabaseIdentity(database string) (string, error) {
	url := fmt.Sprintf("%s/v1/database/%s/identity", self.baseUrl, database)
	response, err := self.Get(url)
	if err != nil {
		return "", err
	}
	if err := statusError(response); err != nil {
		return "", err
	}
	return string(response.Body), nil
}

// Logs tails the database's module logs.
func (self *Api) Logs(database string, numLines int) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/database/%s/logs?num_lines=%d", self.baseUrl, database, numLines)
	response, err := self.Get(url)
	if err != nil {
		return nil, err
	}
	if err := statusError(response); err != nil {
		return nil, err
	}
	return response.Body, nil
}

// Ping checks the server is reachable.
func (self *Api) Ping() error {
	url := fmt.Sprintf("%s/v1/ping", self.baseUrl)
	response, err := self.Get(url)
	if err != nil {
		return err
	}
	return statusError(response)
}
