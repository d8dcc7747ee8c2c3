package zuora

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestGetSetsBasicAuthHeaders(t *testing.T) {
	var gotKeyID, gotSecret, gotWSDL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKeyID = r.Header.Get("apiAccessKeyId")
		gotSecret = r.Header.Get("apiSecretAccessKey")
		gotWSDL = r.Header.Get("X-Zuora-WSDL-Version")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Username: "user1", Password: "pass1"}, srv.URL+"/", srv.URL+"/", quietLogger())
	resp, err := c.Get(context.Background(), "v1/describe")
	require.NoError(t, err)
	assert.Equal(t, "user1", gotKeyID)
	assert.Equal(t, "pass1", gotSecret)
	assert.Equal(t, LatestWSDLVersion, gotWSDL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetSurfacesApiErrorForNonRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"nope"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Username: "u", Password: "p"}, srv.URL+"/", srv.URL+"/", quietLogger())
	_, err := c.Get(context.Background(), "v1/describe")
	require.Error(t, err)

	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestGetRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Username: "u", Password: "p"}, srv.URL+"/", srv.URL+"/", quietLogger())
	c.retrySeed = time.Millisecond // don't block on the real 30s production backoff
	resp, err := c.do(context.Background(), http.MethodGet, srv.URL+"/v1/describe", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNoSuchDataSourceErrorClassifiedAsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"noSuchDataSource: Foo"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Username: "u", Password: "p"}, srv.URL+"/", srv.URL+"/", quietLogger())
	_, err := c.Get(context.Background(), "v1/describe/Foo")
	require.Error(t, err)

	var noSuch *NoSuchDataSourceError
	require.ErrorAs(t, err, &noSuch)
	assert.Equal(t, 1, attempts) // not retried
}

func TestOAuthInjectsBearerToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var gotAuth string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer apiSrv.Close()

	c := NewClient(Config{AuthType: "OAuth", Username: "id", Password: "secret"}, apiSrv.URL+"/", apiSrv.URL+"/", quietLogger())
	c.ccConfig.TokenURL = tokenSrv.URL + "/"

	_, err := c.Get(context.Background(), "v1/describe")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}
