package metafield

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	getNodeMetafieldQuery = `
query getMetafield($ownerId: ID!, $namespace: String!, $key: String!) {
  node(id: $ownerId) {
    ... on HasMetafields {
      metafield(namespace: $namespace, key: $key) { value }
    }
  }
}`

	getShopMetafieldQuery = `
query getShopMetafield($namespace: String!, $key: String!) {
  shop {
    id
    metafield(namespace: $namespace, key: $key) { value }
  }
}`

	getShopIDQuery = `query { shop { id } }`

	setMetafieldsMutation = `
mutation setMetafields($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { id }
    userErrors { field message code }
  }
}`
)

// PlatformError is a GraphQL or user error returned by the Admin API.
type PlatformError struct {
	Message string
	Code    string
	Field   string
}

func (e *PlatformError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("admin api error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("admin api error: %s", e.Message)
}

// ShopifyConfig identifies the shop and credentials for the Admin API.
type ShopifyConfig struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	// Endpoint overrides the URL derived from ShopDomain and APIVersion.
	Endpoint string
}

// ShopifyStore reads and writes app-owned metafields through the Admin GraphQL
// API. Every request consumes one token from the injected limiter; when none is
// available the call fails fast with a RateLimitError.
type ShopifyStore struct {
	client   *http.Client
	endpoint string
	token    string
	limiter  *rate.Limiter

	shopMu sync.Mutex
	shopID string
}

// NewShopifyStore creates a store. A nil client uses a client with a 15s timeout.
func NewShopifyStore(cfg ShopifyConfig, client *http.Client, limiter *rate.Limiter) (*ShopifyStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		if strings.TrimSpace(cfg.ShopDomain) == "" {
			return nil, errors.New("shop domain is required")
		}
		version := cfg.APIVersion
		if version == "" {
			version = "2025-01"
		}
		endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", strings.TrimSpace(cfg.ShopDomain), version)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ShopifyStore{
		client:   client,
		endpoint: endpoint,
		token:    cfg.AccessToken,
		limiter:  limiter,
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type metafieldValue struct {
	Value string `json:"value"`
}

func (s *ShopifyStore) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	if err := reserve(s.limiter); err != nil {
		return err
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("X-Shopify-Access-Token", s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("admin api request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read admin api response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 300 {
		return &PlatformError{Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))}
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("failed to decode admin api response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return &PlatformError{Message: decoded.Errors[0].Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("failed to decode admin api data: %w", err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &seconds); err != nil || seconds <= 0 {
		return time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}

func (s *ShopifyStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	vars := map[string]any{"namespace": ref.Namespace, "key": ref.Key}

	var field *metafieldValue
	if ref.OwnerID == ShopOwner {
		var data struct {
			Shop struct {
				ID        string          `json:"id"`
				Metafield *metafieldValue `json:"metafield"`
			} `json:"shop"`
		}
		if err := s.execute(ctx, getShopMetafieldQuery, vars, &data); err != nil {
			return nil, err
		}
		s.rememberShopID(data.Shop.ID)
		field = data.Shop.Metafield
	} else {
		vars["ownerId"] = ref.OwnerID
		var data struct {
			Node *struct {
				Metafield *metafieldValue `json:"metafield"`
			} `json:"node"`
		}
		if err := s.execute(ctx, getNodeMetafieldQuery, vars, &data); err != nil {
			return nil, err
		}
		if data.Node != nil {
			field = data.Node.Metafield
		}
	}

	if field == nil || field.Value == "" {
		return nil, ErrNotFound
	}
	return []byte(field.Value), nil
}

func (s *ShopifyStore) GetMany(ctx context.Context, namespace, key string, ownerIDs []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ownerIDs))
	for _, owner := range ownerIDs {
		value, err := s.Get(ctx, Ref{OwnerID: owner, Namespace: namespace, Key: key})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[owner] = value
	}
	return out, nil
}

func (s *ShopifyStore) Set(ctx context.Context, ref Ref, value []byte) error {
	ownerID := ref.OwnerID
	if ownerID == ShopOwner {
		id, err := s.resolveShopID(ctx)
		if err != nil {
			return err
		}
		ownerID = id
	}

	vars := map[string]any{
		"metafields": []map[string]any{{
			"ownerId":   ownerID,
			"namespace": ref.Namespace,
			"key":       ref.Key,
			"value":     string(value),
			"type":      "json",
		}},
	}
	var data struct {
		MetafieldsSet struct {
			UserErrors []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
				Code    string   `json:"code"`
			} `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	if err := s.execute(ctx, setMetafieldsMutation, vars, &data); err != nil {
		return err
	}
	if errs := data.MetafieldsSet.UserErrors; len(errs) > 0 {
		return &PlatformError{
			Message: errs[0].Message,
			Code:    errs[0].Code,
			Field:   strings.Join(errs[0].Field, "."),
		}
	}
	return nil
}

func (s *ShopifyStore) rememberShopID(id string) {
	if id == "" {
		return
	}
	s.shopMu.Lock()
	s.shopID = id
	s.shopMu.Unlock()
}

func (s *ShopifyStore) resolveShopID(ctx context.Context) (string, error) {
	s.shopMu.Lock()
	id := s.shopID
	s.shopMu.Unlock()
	if id != "" {
		return id, nil
	}

	var data struct {
		Shop struct {
			ID string `json:"id"`
		} `json:"shop"`
	}
	if err := s.execute(ctx, getShopIDQuery, nil, &data); err != nil {
		return "", err
	}
	if data.Shop.ID == "" {
		return "", &PlatformError{Message: "shop id missing from response"}
	}
	s.rememberShopID(data.Shop.ID)
	return data.Shop.ID, nil
}
