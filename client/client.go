package client

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mwrona/go-smax/entity"
	"github.com/mwrona/go-smax/httpclient"
	"github.com/mwrona/go-smax/logger"
	"github.com/mwrona/go-smax/telemetry"
	"github.com/mwrona/go-smax/tokencache"
)

const (
	authEndpoint = "%s/auth/authentication-endpoint/authenticate/token?TENANTID=%s"
	emsEndpoint  = "%s/rest/%s/ems/%s"
)

const requestDurationMetric = "smax_api_request_duration_microseconds"

var (
	ErrAuthenticationFailed = fmt.Errorf("authentication failed")
	ErrEmptyEntityType      = fmt.Errorf("entity type cannot be empty")
	ErrEmptyEntityID        = fmt.Errorf("entity id cannot be empty")
	ErrEmptyAssociation     = fmt.Errorf("association cannot be empty")
)

// Config holds the connection parameters of a single SMAX tenant.
// It corresponds to the *.yaml configuration file section and is
// immutable after the client is constructed.
type Config struct {
	BaseURL         string `yaml:"base_url"`
	TenantID        string `yaml:"tenant_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
	SkipVerify      bool   `yaml:"skip_verify"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// QuerySpec narrows an entity query. Zero valued fields are omitted
// from the request query string.
type QuerySpec struct {
	Filter string
	Layout string
	Group  string
	Order  string
	Size   int
	Skip   int
	Meta   string
}

func (q QuerySpec) values() url.Values {
	v := url.Values{}
	for key, value := range map[string]string{
		"filter": q.Filter,
		"layout": q.Layout,
		"group":  q.Group,
		"order":  q.Order,
		"meta":   q.Meta,
	} {
		if value != "" {
			v.Set(key, value)
		}
	}
	if q.Size != 0 {
		v.Set("size", strconv.Itoa(q.Size))
	}
	if q.Skip != 0 {
		v.Set("skip", strconv.Itoa(q.Skip))
	}
	return v
}

// Client is a rest client for the SMAX entity management API.
// It obtains and caches the tenant bearer token and exposes entity
// query, read, create, update, delete and bulk operations.
// All methods perform blocking network I/O and are safe for concurrent use.
type Client struct {
	baseURL  string
	tenantID string
	username string
	password string
	caller   httpclient.Caller
	tokens   *tokencache.Cache
	log      logger.Logger
	tel      *telemetry.Measurements
	mux      sync.Mutex
}

// NewClient creates a new rest client. No network I/O happens here,
// the first authorized call obtains the token transparently.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("tenant id cannot be empty")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password cannot be empty")
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tenantID: cfg.TenantID,
		username: cfg.Username,
		password: cfg.Password,
		caller:   httpclient.New(time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.SkipVerify),
		tokens:   tokencache.New(time.Duration(cfg.TokenTTLSeconds) * time.Second),
		log:      log,
	}, nil
}

// AttachTelemetry registers the request duration histogram and makes the
// client record the duration of every API call.
func (c *Client) AttachTelemetry(m *telemetry.Measurements) {
	m.CreateUpdateObservableHistogram(requestDurationMetric, "Duration of SMAX API requests.")
	c.tel = m
}

// Close releases the token cache resources.
func (c *Client) Close() {
	c.tokens.Close()
}

// Authenticate posts the credentials to the tenant token endpoint and caches
// the returned bearer token. It is called transparently by all authorized
// methods, calling it directly is only needed to verify the credentials.
func (c *Client) Authenticate() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.authenticate()
}

// authenticate must be called with the mutex held so parallel callers
// cannot stampede the token endpoint.
func (c *Client) authenticate() error {
	addr := fmt.Sprintf(authEndpoint, c.baseURL, url.QueryEscape(c.tenantID))
	token, err := c.caller.PostText(addr, loginRequest{Login: c.username, Password: c.password})
	if err != nil {
		return errors.Join(ErrAuthenticationFailed, err)
	}
	if token == "" {
		return errors.Join(ErrAuthenticationFailed, errors.New("token endpoint returned an empty token"))
	}
	c.tokens.Put(c.tenantID, token)
	c.log.Debug(fmt.Sprintf("authenticated against tenant [ %s ]", c.tenantID))
	return nil
}

// QueryEntities queries entities of the given type with optional filters.
func (c *Client) QueryEntities(entityType string, q QuerySpec) (entity.QueryResult, error) {
	if entityType == "" {
		return entity.QueryResult{}, ErrEmptyEntityType
	}
	var res entity.QueryResult
	err := c.withReauth(func(token string) error {
		return c.caller.Get(token, c.emsURL(entityType, q.values()), &res)
	})
	return res, err
}

// GetEntity retrieves a single entity by its id. The layout lists the
// properties the server is asked to return.
func (c *Client) GetEntity(entityType, id, layout string) (entity.QueryResult, error) {
	if entityType == "" {
		return entity.QueryResult{}, ErrEmptyEntityType
	}
	if id == "" {
		return entity.QueryResult{}, ErrEmptyEntityID
	}
	var res entity.QueryResult
	err := c.withReauth(func(token string) error {
		return c.caller.Get(token, c.emsURL(fmt.Sprintf("%s/%s", entityType, id), QuerySpec{Layout: layout}.values()), &res)
	})
	return res, err
}

// GetRelatedRecords retrieves records related to the entity through the named association.
func (c *Client) GetRelatedRecords(entityType, id, association string, q QuerySpec) (entity.QueryResult, error) {
	if entityType == "" {
		return entity.QueryResult{}, ErrEmptyEntityType
	}
	if id == "" {
		return entity.QueryResult{}, ErrEmptyEntityID
	}
	if association == "" {
		return entity.QueryResult{}, ErrEmptyAssociation
	}
	var res entity.QueryResult
	err := c.withReauth(func(token string) error {
		return c.caller.Get(token, c.emsURL(fmt.Sprintf("%s/%s/associations/%s", entityType, id, association), q.values()), &res)
	})
	return res, err
}

// GetAggregatedData retrieves aggregated data for entities of the given type.
func (c *Client) GetAggregatedData(entityType string, q QuerySpec) (entity.QueryResult, error) {
	if entityType == "" {
		return entity.QueryResult{}, ErrEmptyEntityType
	}
	var res entity.QueryResult
	err := c.withReauth(func(token string) error {
		return c.caller.Get(token, c.emsURL(fmt.Sprintf("%s/aggregations", entityType), q.values()), &res)
	})
	return res, err
}

// BulkOperation performs a bulk CREATE, UPDATE or DELETE on entities or relationships.
// The request is validated before any network call is made.
func (c *Client) BulkOperation(req entity.BulkRequest) (entity.BulkResponse, error) {
	if err := req.Validate(); err != nil {
		return entity.BulkResponse{}, err
	}
	var res entity.BulkResponse
	err := c.withReauth(func(token string) error {
		return c.caller.Post(token, c.emsURL("bulk", nil), req, &res)
	})
	return res, err
}

// CreateEntities creates new entities through the bulk resource.
func (c *Client) CreateEntities(entities []entity.Entity) (entity.BulkResponse, error) {
	return c.BulkOperation(entity.BulkRequest{Operation: entity.OperationCreate, Entities: entities})
}

// UpdateEntities updates existing entities through the bulk resource.
func (c *Client) UpdateEntities(entities []entity.Entity) (entity.BulkResponse, error) {
	return c.BulkOperation(entity.BulkRequest{Operation: entity.OperationUpdate, Entities: entities})
}

// CreateRelationships creates new relationships through the bulk resource.
func (c *Client) CreateRelationships(relationships []entity.Relationship) (entity.BulkResponse, error) {
	return c.BulkOperation(entity.BulkRequest{Operation: entity.OperationCreate, Relationships: relationships})
}

// DeleteRelationships removes relationships through the bulk resource.
func (c *Client) DeleteRelationships(relationships []entity.Relationship) (entity.BulkResponse, error) {
	return c.BulkOperation(entity.BulkRequest{Operation: entity.OperationDelete, Relationships: relationships})
}

// UpdateEntity updates a single entity in place.
func (c *Client) UpdateEntity(entityType, id string, properties entity.Properties) (entity.QueryResult, error) {
	if entityType == "" {
		return entity.QueryResult{}, ErrEmptyEntityType
	}
	if id == "" {
		return entity.QueryResult{}, ErrEmptyEntityID
	}
	e := entity.Entity{EntityType: entityType, Properties: properties}
	if err := e.Validate(); err != nil {
		return entity.QueryResult{}, err
	}
	var res entity.QueryResult
	err := c.withReauth(func(token string) error {
		return c.caller.Put(token, c.emsURL(fmt.Sprintf("%s/%s", entityType, id), nil), e, &res)
	})
	return res, err
}

// DeleteEntity removes a single entity by its id.
func (c *Client) DeleteEntity(entityType, id string) error {
	if entityType == "" {
		return ErrEmptyEntityType
	}
	if id == "" {
		return ErrEmptyEntityID
	}
	return c.withReauth(func(token string) error {
		return c.caller.Delete(token, c.emsURL(fmt.Sprintf("%s/%s", entityType, id), nil), nil)
	})
}

func (c *Client) emsURL(path string, params url.Values) string {
	addr := fmt.Sprintf(emsEndpoint, c.baseURL, c.tenantID, path)
	if len(params) > 0 {
		addr = fmt.Sprintf("%s?%s", addr, params.Encode())
	}
	return addr
}

// token returns the cached bearer token, authenticating first when the cache
// holds none or the previous token expired.
func (c *Client) token() (string, error) {
	if token, ok := c.tokens.Get(c.tenantID); ok {
		return token, nil
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	if token, ok := c.tokens.Get(c.tenantID); ok {
		return token, nil
	}
	if err := c.authenticate(); err != nil {
		return "", err
	}
	token, _ := c.tokens.Get(c.tenantID)
	return token, nil
}

// withReauth runs the call with a live token. When the server rejects the token
// it re-authenticates exactly once and retries the call once.
func (c *Client) withReauth(call func(token string) error) error {
	token, err := c.token()
	if err != nil {
		return err
	}

	start := time.Now()
	err = call(token)
	if c.tel != nil {
		c.tel.RecordHistogramTime(requestDurationMetric, time.Since(start))
	}
	if !errors.Is(err, httpclient.ErrUnauthorized) {
		return err
	}

	c.log.Warn(fmt.Sprintf("token rejected for tenant [ %s ], re-authenticating", c.tenantID))
	c.mux.Lock()
	c.tokens.Drop(c.tenantID)
	err = c.authenticate()
	c.mux.Unlock()
	if err != nil {
		return err
	}

	token, _ = c.tokens.Get(c.tenantID)
	return call(token)
}
