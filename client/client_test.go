package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/mwrona/go-smax/entity"
	"github.com/mwrona/go-smax/httpclient"
	"github.com/mwrona/go-smax/logging"
)

const (
	testTenant   = "902"
	testUser     = "api-user"
	testPassword = "s3cret"
)

type fakeSMAX struct {
	mu              sync.Mutex
	authCalls       int
	apiCalls        int
	token           string
	expireTokenOnce bool
	failStatus      int
	lastQuery       map[string]string
	lastOperation   entity.Operation
	lastAssociation string
}

// gate validates the bearer token cookie and counts the call.
// It reports false when it already wrote an error response.
func (f *fakeSMAX) gate(c *fiber.Ctx) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiCalls++
	if f.failStatus != 0 {
		c.Status(f.failStatus).SendString(`{"error":"internal failure"}`)
		f.failStatus = 0
		return false
	}
	if f.expireTokenOnce {
		f.expireTokenOnce = false
		f.token = ""
		c.Status(fiber.StatusUnauthorized).SendString(`{"error":"token expired"}`)
		return false
	}
	if f.token == "" || c.Cookies(httpclient.AuthCookie) != f.token {
		c.Status(fiber.StatusUnauthorized).SendString(`{"error":"unauthorized"}`)
		return false
	}
	return true
}

func (f *fakeSMAX) counts() (auth, api int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.apiCalls
}

func (f *fakeSMAX) last() (query map[string]string, operation entity.Operation, association string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery, f.lastOperation, f.lastAssociation
}

func (f *fakeSMAX) recordQuery(c *fiber.Ctx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = map[string]string{}
	for _, key := range []string{"filter", "layout", "group", "order", "size", "skip", "meta"} {
		if v := c.Query(key); v != "" {
			f.lastQuery[key] = v
		}
	}
}

func runFakeSMAX(t *testing.T) (*fakeSMAX, string) {
	t.Helper()

	f := &fakeSMAX{}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Post("/auth/authentication-endpoint/authenticate/token", func(c *fiber.Ctx) error {
		if c.Query("TENANTID") != testTenant {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		var cred struct {
			Login    string `json:"login"`
			Password string `json:"password"`
		}
		if err := c.BodyParser(&cred); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		if cred.Login != testUser || cred.Password != testPassword {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		f.mu.Lock()
		f.authCalls++
		f.token = fmt.Sprintf("token-%d", f.authCalls)
		token := f.token
		f.mu.Unlock()
		return c.SendString(token)
	})

	rest := app.Group("/rest/:tenant/ems")

	rest.Post("/bulk", func(c *fiber.Ctx) error {
		if !f.gate(c) {
			return nil
		}
		var req entity.BulkRequest
		if err := c.BodyParser(&req); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		f.mu.Lock()
		f.lastOperation = req.Operation
		f.mu.Unlock()
		res := entity.BulkResponse{Meta: entity.Meta{CompletionStatus: "OK"}}
		for _, e := range req.Entities {
			res.EntityResultList = append(res.EntityResultList, entity.EntityResult{Entity: e, CompletionStatus: "OK"})
		}
		for _, r := range req.Relationships {
			res.RelationshipResultList = append(res.RelationshipResultList, entity.RelationshipResult{Relationship: r, CompletionStatus: "OK"})
		}
		return c.JSON(res)
	})

	rest.Get("/:type/aggregations", func(c *fiber.Ctx) error {
		if !f.gate(c) {
			return nil
		}
		f.recordQuery(c)
		return c.JSON(entity.QueryResult{Meta: entity.Meta{CompletionStatus: "OK", TotalCount: 42}})
	})

	rest.Get("/:type/:id/associations/:association", func(c *fiber.Ctx) error {
		if !f.gate(c) {
			return nil
		}
		f.recordQuery(c)
		f.mu.Lock()
		f.lastAssociation = c.Params("association")
		f.mu.Unlock()
		return c.JSON(entity.QueryResult{
			Entities: []entity.Entity{{EntityType: "Person", Properties: entity.Properties{"Id": "10010"}}},
			Meta:     entity.Meta{CompletionStatus: "OK", TotalCount: 1},
		})
	})

	rest.Get("/:type/:id", func(c *fiber.Ctx) error {
		if !f.gate(c) {
			return nil
		}
		f.recordQuery(c)
		return c.JSON(entity.QueryResult{
			Entities: []entity.Entity{{EntityType: c.Params("type"), Properties: entity.Properties{"Id": c.Params("id")}}},
			Meta:     entity.Meta{CompletionStatus: "OK", TotalCount: 1},
		})
	})

	rest.Get("/:type", func(c *fiber.Ctx) error {
		if !f.gate(c) {
			return nil
		}
		f.recordQuery(c)
		return c.JSON(entity.QueryResult{
			Entities: []entity.Entity{{EntityType: c.Params("type"), Properties: entity.Properties{"Id": "1"}}},
			Meta:     entity.Meta{CompletionStatus: "OK", TotalCount: 1},
		})
	})

	rest.Put("/:type/:id", func(c *fiber.Ctx) error {
		if !f.gate(c) {
			return nil
		}
		var e entity.Entity
		if err := c.BodyParser(&e); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return c.JSON(entity.QueryResult{Entities: []entity.Entity{e}, Meta: entity.Meta{CompletionStatus: "OK"}})
	})

	rest.Delete("/:type/:id", func(c *fiber.Ctx) error {
		if !f.gate(c) {
			return nil
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)

	go app.Listener(lis)
	t.Cleanup(func() { app.Shutdown() })
	time.Sleep(time.Millisecond * 50) // just wait so the server can start

	return f, fmt.Sprintf("http://%s", lis.Addr().String())
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:        baseURL,
		TenantID:       testTenant,
		Username:       testUser,
		Password:       testPassword,
		TimeoutSeconds: 5,
	}, logging.New(func(error) {}))
	assert.Nil(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewClientValidatesConfig(t *testing.T) {
	t.Parallel()
	log := logging.New(func(error) {})

	_, err := NewClient(Config{TenantID: testTenant, Username: testUser, Password: testPassword}, log)
	assert.NotNil(t, err)

	_, err = NewClient(Config{BaseURL: "https://smax.example.com", Username: testUser, Password: testPassword}, log)
	assert.NotNil(t, err)

	_, err = NewClient(Config{BaseURL: "https://smax.example.com", TenantID: testTenant}, log)
	assert.NotNil(t, err)

	c, err := NewClient(Config{BaseURL: "https://smax.example.com/", TenantID: testTenant, Username: testUser, Password: testPassword}, log)
	assert.Nil(t, err)
	defer c.Close()
	assert.Equal(t, "https://smax.example.com", c.baseURL)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	err := c.Authenticate()
	assert.Nil(t, err)
	auth, _ := f.counts()
	assert.Equal(t, 1, auth)
}

func TestAuthenticateBadCredentials(t *testing.T) {
	t.Parallel()
	_, baseURL := runFakeSMAX(t)

	c, err := NewClient(Config{
		BaseURL:        baseURL,
		TenantID:       testTenant,
		Username:       testUser,
		Password:       "wrong",
		TimeoutSeconds: 5,
	}, logging.New(func(error) {}))
	assert.Nil(t, err)
	defer c.Close()

	err = c.Authenticate()
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
}

func TestCreateEntities(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	res, err := c.CreateEntities([]entity.Entity{
		{EntityType: "Request", Properties: entity.Properties{"Description": "printer on fire"}},
	})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(res.EntityResultList))
	assert.Equal(t, "OK", res.EntityResultList[0].CompletionStatus)
	_, operation, _ := f.last()
	assert.Equal(t, entity.OperationCreate, operation)
	auth, api := f.counts()
	assert.Equal(t, 1, auth)
	assert.Equal(t, 1, api)
}

func TestCreateEntitiesValidationBeforeNetwork(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	_, err := c.CreateEntities([]entity.Entity{
		{Properties: entity.Properties{"Description": "missing entity type"}},
	})
	assert.True(t, errors.Is(err, entity.ErrValidationFailed))
	auth, api := f.counts()
	assert.Equal(t, 0, auth)
	assert.Equal(t, 0, api)
}

func TestReauthenticateOnceOn401(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	err := c.Authenticate()
	assert.Nil(t, err)

	f.mu.Lock()
	f.expireTokenOnce = true
	f.mu.Unlock()

	res, err := c.CreateEntities([]entity.Entity{
		{EntityType: "Request", Properties: entity.Properties{"Description": "printer on fire"}},
	})
	assert.Nil(t, err)
	assert.Equal(t, "OK", res.Meta.CompletionStatus)
	auth, api := f.counts()
	assert.Equal(t, 2, auth)
	assert.Equal(t, 2, api)
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	err := c.Authenticate()
	assert.Nil(t, err)

	f.mu.Lock()
	f.failStatus = fiber.StatusInternalServerError
	f.mu.Unlock()

	_, err = c.QueryEntities("Request", QuerySpec{})
	assert.True(t, errors.Is(err, httpclient.ErrStatusCodeMismatch))

	var apiErr *httpclient.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, fiber.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, string(apiErr.Body), "internal failure")
}

func TestQueryEntities(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	res, err := c.QueryEntities("Request", QuerySpec{
		Filter: "Active = true",
		Layout: "Id,Description",
		Order:  "Id desc",
		Size:   10,
		Skip:   5,
	})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(res.Entities))
	assert.Equal(t, "Request", res.Entities[0].EntityType)
	query, _, _ := f.last()
	assert.Equal(t, map[string]string{
		"filter": "Active = true",
		"layout": "Id,Description",
		"order":  "Id desc",
		"size":   "10",
		"skip":   "5",
	}, query)
}

func TestQueryEntitiesRequiresType(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	_, err := c.QueryEntities("", QuerySpec{})
	assert.True(t, errors.Is(err, ErrEmptyEntityType))
	_, api := f.counts()
	assert.Equal(t, 0, api)
}

func TestGetEntity(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	res, err := c.GetEntity("Request", "10584", "Id,Description")
	assert.Nil(t, err)
	assert.Equal(t, 1, len(res.Entities))
	assert.Equal(t, "10584", res.Entities[0].Properties["Id"])
	query, _, _ := f.last()
	assert.Equal(t, map[string]string{"layout": "Id,Description"}, query)
}

func TestGetRelatedRecords(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	res, err := c.GetRelatedRecords("Request", "10584", "RequestedByPerson", QuerySpec{Layout: "Id"})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(res.Entities))
	_, _, association := f.last()
	assert.Equal(t, "RequestedByPerson", association)
}

func TestGetAggregatedData(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	res, err := c.GetAggregatedData("Request", QuerySpec{Group: "Status", Filter: "Active = true"})
	assert.Nil(t, err)
	assert.Equal(t, 42, res.Meta.TotalCount)
	query, _, _ := f.last()
	assert.Equal(t, "Status", query["group"])
}

func TestUpdateEntity(t *testing.T) {
	t.Parallel()
	_, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	res, err := c.UpdateEntity("Request", "10584", entity.Properties{"Description": "updated"})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(res.Entities))
	assert.Equal(t, "updated", res.Entities[0].Properties["Description"])
}

func TestDeleteEntity(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	err := c.DeleteEntity("Request", "10584")
	assert.Nil(t, err)
	_, api := f.counts()
	assert.Equal(t, 1, api)
}

func TestBulkRelationships(t *testing.T) {
	t.Parallel()
	f, baseURL := runFakeSMAX(t)
	c := newTestClient(t, baseURL)

	rel := entity.Relationship{
		Name:           "RequestCausedByRequest",
		FirstEndpoint:  entity.Entity{EntityType: "Request", Properties: entity.Properties{"Id": "1"}},
		SecondEndpoint: entity.Entity{EntityType: "Request", Properties: entity.Properties{"Id": "2"}},
	}

	res, err := c.CreateRelationships([]entity.Relationship{rel})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(res.RelationshipResultList))
	_, operation, _ := f.last()
	assert.Equal(t, entity.OperationCreate, operation)

	res, err = c.DeleteRelationships([]entity.Relationship{rel})
	assert.Nil(t, err)
	_, operation, _ = f.last()
	assert.Equal(t, entity.OperationDelete, operation)
}
