// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MethodGetBigDataResults is the gateway method behind Altitude (Data as a
// Service) jobs
const MethodGetBigDataResults = "GetBigDataResults"

// Altitude gateway functions
const (
	AltitudeCreateJob    = "createQueryJob"
	AltitudeJobStatus    = "getJobStatus"
	AltitudeQueryResults = "getQueryResults"
)

// Altitude job states
const (
	JobStateDone   = "DONE"
	JobStateFailed = "FAILED"
)

// Defaults of an AltitudeClient
const (
	DefaultAltitudePollInterval = 5 * time.Second
	DefaultAltitudeMaxAttempts  = 5
)

// ErrIncompleteResult reports a gateway response without an apiResult or
// without results. Such calls are repeated.
var ErrIncompleteResult = errors.New("altitude response is missing expected attributes")

// AltitudeError is an error reported by the gateway or by the Altitude
// application in an otherwise successful call
type AltitudeError struct {
	Code    string
	Domain  string
	Message string
}

// Error implements the error interface
func (e *AltitudeError) Error() string {
	if e.Code == "" && e.Domain == "" {
		return "altitude: " + e.Message
	}
	return fmt.Sprintf("altitude: %s (code=%s, domain=%s)", e.Message, e.Code, e.Domain)
}

// AltitudeRequest names an Altitude service and the parameters of its job.
// The job ID and page token are added to FunctionParameters as the job runs.
type AltitudeRequest struct {
	ServiceName        string
	FunctionParameters map[string]any
}

// AltitudeResult is the decoded answer of one gateway call
type AltitudeResult struct {
	// Job is the first entry of apiResult.results
	Job map[string]any

	// Errors holds gateway errors followed by application errors
	Errors []error
}

// Err returns the first reported error, or nil
func (r AltitudeResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// AltitudePage is one page of job results
type AltitudePage struct {
	Rows      []any
	TotalRows int64
	// Index counts pages from 1
	Index int
}

// AltitudeClient runs Altitude query jobs through an authenticated Client:
// it creates a job, polls until the job finishes and pages through its rows.
type AltitudeClient struct {
	client *Client

	// PollInterval is the pause between job status checks
	PollInterval time.Duration

	// MaxAttempts bounds the calls made when responses are incomplete
	MaxAttempts int

	// RetryDelay returns the pause after the given failed attempt (from 1)
	RetryDelay func(attempt int) time.Duration
}

// NewAltitudeClient wraps client for Altitude jobs
//
// Example:
//
//	altitude := mygeotab.NewAltitudeClient(client)
//	rows, err := altitude.Do(ctx, mygeotab.AltitudeRequest{
//	    ServiceName:        "dna-altitude-general",
//	    FunctionParameters: map[string]any{"queryType": "getRoadSegments"},
//	})
func NewAltitudeClient(client *Client) *AltitudeClient {
	return &AltitudeClient{
		client:       client,
		PollInterval: DefaultAltitudePollInterval,
		MaxAttempts:  DefaultAltitudeMaxAttempts,
		RetryDelay: func(attempt int) time.Duration {
			return time.Duration(attempt) * 10 * time.Second
		},
	}
}

// CallAPI calls one gateway function and decodes its result. Incomplete
// responses are retried up to MaxAttempts; any other error is returned
// at once.
func (a *AltitudeClient) CallAPI(ctx context.Context, function string, req AltitudeRequest) (AltitudeResult, error) {
	switch function {
	case AltitudeCreateJob, AltitudeJobStatus, AltitudeQueryResults:
	default:
		return AltitudeResult{}, &ConfigurationError{Field: "functionName", Message: fmt.Sprintf("unsupported altitude function %q", function)}
	}
	if strings.TrimSpace(req.ServiceName) == "" {
		return AltitudeResult{}, &ConfigurationError{Field: "serviceName", Message: "a service name must be specified"}
	}

	attempts := a.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		raw, err := a.client.Call(ctx, MethodGetBigDataResults, map[string]any{
			"serviceName":        req.ServiceName,
			"functionName":       function,
			"functionParameters": req.FunctionParameters,
		})
		if err != nil {
			return AltitudeResult{}, err
		}

		result, err := parseAltitudeResult(raw)
		if err == nil {
			return result, nil
		}
		if attempt >= attempts {
			return AltitudeResult{}, fmt.Errorf("%s after %d attempts: %w", function, attempt, err)
		}

		a.client.logger.Warn(ctx, "incomplete altitude response, retrying",
			"function", function,
			"attempt", attempt)
		if err := sleepContext(ctx, a.retryDelay(attempt)); err != nil {
			return AltitudeResult{}, err
		}
	}
}

func (a *AltitudeClient) retryDelay(attempt int) time.Duration {
	if a.RetryDelay == nil {
		return 0
	}
	return a.RetryDelay(attempt)
}

// CreateJob starts a query job and returns its ID
func (a *AltitudeClient) CreateJob(ctx context.Context, req AltitudeRequest) (string, error) {
	result, err := a.CallAPI(ctx, AltitudeCreateJob, req)
	if err != nil {
		return "", err
	}
	if err := result.Err(); err != nil {
		return "", err
	}
	id := stringValue(result.Job["id"])
	if id == "" {
		return "", fmt.Errorf("%s: job has no id: %w", AltitudeCreateJob, ErrIncompleteResult)
	}
	return id, nil
}

// JobStatus reports the state of the job named by the "jobId" function
// parameter. A job without a status is treated as failed.
func (a *AltitudeClient) JobStatus(ctx context.Context, req AltitudeRequest) (AltitudeResult, string, error) {
	result, err := a.CallAPI(ctx, AltitudeJobStatus, req)
	if err != nil {
		return AltitudeResult{}, "", err
	}
	state := JobStateFailed
	if status, ok := result.Job["status"].(map[string]any); ok {
		if s := stringValue(status["state"]); s != "" {
			state = s
		}
	}
	return result, state, nil
}

// jobFinished reports whether a job reached DONE; a FAILED job without any
// reported error is an error of its own
func jobFinished(result AltitudeResult, state string) (bool, error) {
	switch {
	case state == JobStateDone:
		return true, nil
	case state != JobStateFailed:
		return false, nil
	case len(result.Errors) > 0:
		return false, nil
	default:
		return false, fmt.Errorf("altitude job %s failed without an error", stringValue(result.Job["id"]))
	}
}

// WaitForJob polls the job status every PollInterval until the job is done
// and returns the final job description
func (a *AltitudeClient) WaitForJob(ctx context.Context, req AltitudeRequest) (map[string]any, error) {
	for {
		result, state, err := a.JobStatus(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		done, err := jobFinished(result, state)
		if err != nil {
			return nil, err
		}
		if done {
			return result.Job, nil
		}

		a.client.logger.Info(ctx, "waiting for altitude job",
			"job_id", stringValue(result.Job["id"]),
			"state", state)
		if err := sleepContext(ctx, a.PollInterval); err != nil {
			return nil, err
		}
	}
}

// FetchData pages through the results of a finished job, calling fn once per
// page. The job must already be done.
func (a *AltitudeClient) FetchData(ctx context.Context, req AltitudeRequest, fn func(AltitudePage) error) error {
	result, state, err := a.JobStatus(ctx, req)
	if err != nil {
		return err
	}
	if done, _ := jobFinished(result, state); !done || len(result.Errors) > 0 {
		return errors.New("altitude results requested before the job finished successfully")
	}

	params := copyParams(req.FunctionParameters)
	for index := 1; ; index++ {
		result, err := a.CallAPI(ctx, AltitudeQueryResults, AltitudeRequest{
			ServiceName:        req.ServiceName,
			FunctionParameters: params,
		})
		if err != nil {
			return err
		}
		if err := result.Err(); err != nil {
			return err
		}

		page := AltitudePage{Index: index, TotalRows: int64Value(result.Job["totalRows"])}
		page.Rows, _ = result.Job["rows"].([]any)
		if index == 1 {
			a.client.logger.Info(ctx, "fetching altitude results", "total_rows", page.TotalRows)
		}
		if err := fn(page); err != nil {
			return err
		}

		token := stringValue(result.Job["pageToken"])
		if token == "" {
			return nil
		}
		params["pageToken"] = token
	}
}

// GetData returns the rows of every page of a finished job
func (a *AltitudeClient) GetData(ctx context.Context, req AltitudeRequest) ([]any, error) {
	rows := []any{}
	err := a.FetchData(ctx, req, func(page AltitudePage) error {
		rows = append(rows, page.Rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Do creates a job, waits for it and returns all of its rows. The caller's
// FunctionParameters are not modified.
func (a *AltitudeClient) Do(ctx context.Context, req AltitudeRequest) ([]any, error) {
	id, err := a.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}
	a.client.logger.Info(ctx, "altitude job created", "job_id", id, "service", req.ServiceName)

	params := copyParams(req.FunctionParameters)
	params["jobId"] = id
	jobReq := AltitudeRequest{ServiceName: req.ServiceName, FunctionParameters: params}

	if _, err := a.WaitForJob(ctx, jobReq); err != nil {
		return nil, err
	}
	return a.GetData(ctx, jobReq)
}

// parseAltitudeResult checks a gateway result and collects its errors
func parseAltitudeResult(raw any) (AltitudeResult, error) {
	call, ok := raw.(map[string]any)
	if !ok || len(call) == 0 {
		return AltitudeResult{}, ErrIncompleteResult
	}
	apiResult, ok := call["apiResult"].(map[string]any)
	if !ok {
		return AltitudeResult{}, ErrIncompleteResult
	}
	jobs, _ := apiResult["results"].([]any)
	if len(jobs) == 0 {
		return AltitudeResult{}, ErrIncompleteResult
	}
	job, _ := jobs[0].(map[string]any)

	result := AltitudeResult{Job: job}
	result.Errors = append(result.Errors, altitudeErrors(call["errors"])...)
	result.Errors = append(result.Errors, altitudeErrors(apiResult["errors"])...)
	if e, ok := apiResult["error"].(map[string]any); ok && len(e) > 0 {
		result.Errors = append(result.Errors, newAltitudeError(e))
	}
	switch msg := apiResult["errorMessage"].(type) {
	case string:
		if msg != "" {
			result.Errors = append(result.Errors, &AltitudeError{Message: msg})
		}
	case map[string]any:
		result.Errors = append(result.Errors, &AltitudeError{Message: stringValue(msg["message"])})
	}
	return result, nil
}

func altitudeErrors(v any) []error {
	list, _ := v.([]any)
	var errs []error
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			errs = append(errs, newAltitudeError(m))
		}
	}
	return errs
}

func newAltitudeError(m map[string]any) *AltitudeError {
	return &AltitudeError{
		Code:    stringValue(m["code"]),
		Domain:  stringValue(m["domain"]),
		Message: stringValue(m["message"]),
	}
}

func int64Value(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	return out
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
