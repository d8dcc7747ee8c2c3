package zuora

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// restURLs and aquaURLs mirror the original client.py URLS table: one REST
// base and one AQuA base per (sandbox, european) combination.
var restURLs = map[[2]bool]string{
	{false, false}: "https://rest.zuora.com/",
	{true, false}:  "https://rest.apisandbox.zuora.com/",
	{false, true}:  "https://rest.eu.zuora.com/",
	{true, true}:   "https://rest.sandbox.eu.zuora.com/",
}

var aquaURLs = map[[2]bool]string{
	{false, false}: "https://www.zuora.com/",
	{true, false}:  "https://apisandbox.zuora.com/",
	{false, true}:  "https://rest.eu.zuora.com/",
	{true, true}:   "https://rest.sandbox.eu.zuora.com/",
}

// RestBaseURL and AquaBaseURL return the single configured candidate for
// the given (sandbox, european) pair. Resolution (below) exists because,
// historically, not every candidate answers for every tenant; ResolveDataCenter
// probes across sandbox/production only, European-ness is taken from config
// directly since Zuora does not mix US/EU tenants silently.
func RestBaseURL(sandbox, european bool) string { return restURLs[[2]bool{sandbox, european}] }
func AquaBaseURL(sandbox, european bool) string { return aquaURLs[[2]bool{sandbox, european}] }

// wellKnownObject is used for the cheap check/probe calls below; every
// Zuora tenant has an Account object.
const wellKnownObject = "Account"

// ResolveDataCenter finds which of the (sandbox, production) candidates
// for the given european-ness answers successfully for these credentials,
// per spec.md §4.2. It returns the chosen REST and AQuA base URLs.
//
// Probing tries sandbox=false (production) before sandbox=true, since
// production is the overwhelmingly common case; spec.md doesn't mandate
// an order, only that "the first prefix returning anything other than
// 401" wins.
func ResolveDataCenter(ctx context.Context, cfg Config, useRest bool) (restBase, aquaBase string, err error) {
	european := cfg.IsEuropean()
	candidates := []bool{false, true} // sandbox=false, then sandbox=true

	for _, sandbox := range candidates {
		rBase := RestBaseURL(sandbox, european)
		aBase := AquaBaseURL(sandbox, european)
		client := NewClient(cfg, rBase, aBase, nullLogger())

		var probeErr error
		if useRest {
			probeErr = probeRest(ctx, client)
		} else {
			probeErr = probeAqua(ctx, client)
		}

		if probeErr == nil {
			return rBase, aBase, nil
		}

		var apiErr *ApiError
		if isUnauthorized(probeErr, &apiErr) {
			continue // try the next candidate
		}

		// Any non-401 outcome (including a 200 with an embedded errorCode
		// body, per spec.md §4.2) means this is the right data center but
		// something else is wrong; surface it directly.
		return "", "", probeErr
	}

	apiType := "AQuA"
	if useRest {
		apiType = "REST"
	}
	return "", "", &BadCredentialsError{APIType: apiType}
}

func isUnauthorized(err error, target **ApiError) bool {
	if ae, ok := err.(*ApiError); ok {
		*target = ae
		return ae.Status == http.StatusUnauthorized
	}
	return false
}

// probeRest issues a cheap describe call for the well-known object.
func probeRest(ctx context.Context, c *Client) error {
	_, err := c.Get(ctx, "v1/describe/"+wellKnownObject)
	return err
}

// probeAqua submits a tiny limit-1 job for the well-known object, then
// deletes it, per spec.md §4.2. A 200 response carrying an "errorCode"
// body means the AQuA API recognised the request shape but rejected the
// partner/tenant — that's surfaced as-is rather than treated as a retry
// candidate.
func probeAqua(ctx context.Context, c *Client) error {
	payload := map[string]interface{}{
		"name":    "probe",
		"project": "probe",
		"format":  "csv",
		"version": "1.2",
		"queries": []map[string]interface{}{
			{"name": "probe", "query": fmt.Sprintf("select Id from %s limit 1", wellKnownObject), "type": "zoqlexport"},
		},
	}

	resp, err := c.AquaPost(ctx, "v1/batch-query/", payload)
	if err != nil {
		return err
	}

	var decoded struct {
		ID        string `json:"id"`
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if jerr := resp.JSON(&decoded); jerr == nil && decoded.ErrorCode != "" {
		return fmt.Errorf("aqua probe rejected: %s: %s", decoded.ErrorCode, decoded.Message)
	}
	if decoded.ID != "" {
		_, _ = c.AquaDelete(ctx, "v1/batch-query/jobs/"+decoded.ID)
	}
	return nil
}

// nullLogger returns a logger that discards everything, used while
// probing candidate data centers so failed attempts against the wrong
// host don't spam stderr.
func nullLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
