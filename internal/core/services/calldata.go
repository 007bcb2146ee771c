package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
	"github.com/custodia-labs/callbridge/internal/core/ports/driving"
)

// Ensure callDataService implements CallDataService
var _ driving.CallDataService = (*callDataService)(nil)

// AccessTokenSource is the part of the token lifecycle manager resource callers need.
type AccessTokenSource interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
	GetPrincipal(ctx context.Context, userID string) (string, error)
}

const (
	reportSummariesPath = "/call-events-report/v1/report-summaries"
	reportPageSize      = 10

	callQueuePageLimit = 200
	callQueueMaxPages  = 100

	accountsPath      = "/voice-admin/v1/accounts"
	accountsPageLimit = 50
)

// Sources of the account key used for call-queue lookups.
const (
	KeySourceRequest  = "request"
	KeySourceProfile  = "me"
	KeySourceAccounts = "accounts"
)

// endpointStrategy is one candidate location of a resource.
type endpointStrategy struct {
	name  string
	path  string
	query url.Values
}

type callDataService struct {
	tokens AccessTokenSource
	api    driven.ProviderAPI
	logger *slog.Logger
}

// NewCallDataService creates a new call data service.
func NewCallDataService(tokens AccessTokenSource, api driven.ProviderAPI, logger *slog.Logger) driving.CallDataService {
	if logger == nil {
		logger = slog.Default()
	}
	return &callDataService{tokens: tokens, api: api, logger: logger}
}

// ReportSummaries fetches the first page of call-events summaries for the given day.
func (s *callDataService) ReportSummaries(ctx context.Context, userID string, day time.Time) (*domain.ReportSummaries, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	principal, err := s.tokens.GetPrincipal(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)

	query := url.Values{}
	query.Set("userKey", principal)
	query.Set("startTime", start.UTC().Format(time.RFC3339Nano))
	query.Set("endTime", end.UTC().Format(time.RFC3339Nano))
	query.Set("pageSize", strconv.Itoa(reportPageSize))

	body, err := s.api.Get(ctx, token, reportSummariesPath, query)
	if err != nil {
		return nil, s.mapResourceError(err)
	}

	return &domain.ReportSummaries{
		Principal: principal,
		StartTime: start,
		EndTime:   end,
		Data:      json.RawMessage(body),
	}, nil
}

// CallQueues tries the known call-queue endpoints in order. Strategies that
// the account does not expose (404, 403, 400, 405) fall through to the next one.
// An empty accountKey is resolved from the admin profile, then from the first
// listed voice-admin account.
func (s *callDataService) CallQueues(ctx context.Context, userID, accountKey string) (*domain.CallQueues, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	source := KeySourceRequest
	if accountKey == "" {
		accountKey, source, err = s.resolveAccountKey(ctx, token)
		if err != nil {
			return nil, err
		}
	}

	escaped := url.PathEscape(accountKey)
	strategies := []endpointStrategy{
		{name: "accounts", path: "/voice-admin/v1/accounts/" + escaped + "/call-queues"},
		{name: "query", path: "/voice-admin/v1/call-queues", query: url.Values{"accountKey": {accountKey}}},
		{name: "organizations", path: "/voice-admin/v1/organizations/" + escaped + "/call-queues"},
	}

	result := &domain.CallQueues{AccountKey: accountKey, KeySource: source}
	for _, strategy := range strategies {
		items, pages, err := s.fetchAllPages(ctx, token, strategy)
		if err == nil {
			result.Strategy = strategy.name
			result.Items = items
			result.PagesFetched = pages
			return result, nil
		}

		attempt := domain.EndpointAttempt{Strategy: strategy.name, Path: strategy.path, Error: err.Error()}
		var resErr *domain.ResourceError
		if errors.As(err, &resErr) {
			attempt.Status = resErr.Status
		}
		result.Attempts = append(result.Attempts, attempt)

		if !fallsThrough(err) {
			return nil, s.mapResourceError(err)
		}
		s.logger.Debug("call-queue endpoint unavailable, trying next",
			"strategy", strategy.name,
			"status", attempt.Status,
		)
	}

	return result, fmt.Errorf("no call-queue endpoint served account %s: %w", accountKey, domain.ErrNotFound)
}

// resolveAccountKey tries the account key lookups in order. Lookups that fail
// with a resource error or return no key fall through; 401 and transport
// failures stop the resolution.
func (s *callDataService) resolveAccountKey(ctx context.Context, token string) (string, string, error) {
	lookups := []struct {
		source string
		path   string
		query  url.Values
		keyOf  func(body []byte) string
	}{
		{
			source: KeySourceProfile,
			path:   domain.GoToAdminAPIBaseURL + "/admin/rest/v1/me",
			keyOf:  profileAccountKey,
		},
		{
			source: KeySourceAccounts,
			path:   accountsPath,
			query:  url.Values{"limit": {strconv.Itoa(accountsPageLimit)}, "offset": {"0"}},
			keyOf:  firstListedAccountKey,
		},
	}

	for _, lookup := range lookups {
		body, err := s.api.Get(ctx, token, lookup.path, lookup.query)
		if err != nil {
			var resErr *domain.ResourceError
			if !errors.As(err, &resErr) || resErr.Status == http.StatusUnauthorized {
				return "", "", s.mapResourceError(err)
			}
			s.logger.Debug("account key lookup failed, trying next", "source", lookup.source, "status", resErr.Status)
			continue
		}
		if key := lookup.keyOf(body); key != "" {
			return key, lookup.source, nil
		}
	}
	return "", "", fmt.Errorf("could not resolve account key: %w", domain.ErrInvalidInput)
}

// profileAccountKey reads the account key from an admin profile, falling back
// to the first of its listed accounts or organizations.
func profileAccountKey(body []byte) string {
	var profile map[string]json.RawMessage
	if err := json.Unmarshal(body, &profile); err != nil {
		return ""
	}
	if key := firstField(profile, "accountKey", "accountId", "account_id"); key != "" {
		return key
	}
	for _, listKey := range []string{"accounts", "organizations", "orgs"} {
		if key := firstEntryKey(profile[listKey]); key != "" {
			return key
		}
	}
	return ""
}

// firstListedAccountKey reads the key of the first account in a voice-admin listing.
func firstListedAccountKey(body []byte) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	for _, listKey := range []string{"items", "data", "accounts"} {
		if raw, ok := envelope[listKey]; ok {
			return firstEntryKey(raw)
		}
	}
	return ""
}

func firstEntryKey(raw json.RawMessage) string {
	var entries []map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil || len(entries) == 0 {
		return ""
	}
	return firstField(entries[0], "accountKey", "key", "id", "accountId")
}

// firstField returns the first non-empty string or number among keys.
func firstField(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var str string
		if json.Unmarshal(raw, &str) == nil && str != "" {
			return str
		}
		var num json.Number
		if json.Unmarshal(raw, &num) == nil && num != "" {
			return num.String()
		}
	}
	return ""
}

// UserLines returns the lines of the connected principal.
func (s *callDataService) UserLines(ctx context.Context, userID string) (json.RawMessage, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	principal, err := s.tokens.GetPrincipal(ctx, userID)
	if err != nil {
		return nil, err
	}

	body, err := s.api.Get(ctx, token, "/users/v1/users/"+url.PathEscape(principal)+"/lines", nil)
	if err != nil {
		return nil, s.mapResourceError(err)
	}
	return json.RawMessage(body), nil
}

func (s *callDataService) fetchAllPages(ctx context.Context, token string, strategy endpointStrategy) ([]json.RawMessage, int, error) {
	var all []json.RawMessage
	offset := 0
	pages := 0

	for pages < callQueueMaxPages {
		query := url.Values{}
		for k, v := range strategy.query {
			query[k] = v
		}
		query.Set("limit", strconv.Itoa(callQueuePageLimit))
		query.Set("offset", strconv.Itoa(offset))

		body, err := s.api.Get(ctx, token, strategy.path, query)
		if err != nil {
			return nil, pages, err
		}
		pages++

		items, err := pageItems(body)
		if err != nil {
			return nil, pages, err
		}
		all = append(all, items...)
		if len(items) < callQueuePageLimit {
			break
		}
		offset += len(items)
	}
	return all, pages, nil
}

// pageItems extracts the item array from a paged response. The provider uses
// different envelope keys depending on the endpoint.
func pageItems(body []byte) ([]json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	for _, key := range []string{"items", "data", "callQueues", "results"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			continue
		}
		return items, nil
	}
	return nil, nil
}

func fallsThrough(err error) bool {
	var resErr *domain.ResourceError
	if !errors.As(err, &resErr) {
		return false
	}
	switch resErr.Status {
	case http.StatusNotFound, http.StatusForbidden, http.StatusBadRequest, http.StatusMethodNotAllowed:
		return true
	}
	return false
}

// mapResourceError turns a provider 401 into a reconnect-required error.
func (s *callDataService) mapResourceError(err error) error {
	var resErr *domain.ResourceError
	if errors.As(err, &resErr) && resErr.Status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", domain.ErrNotConnected, err)
	}
	return err
}
