package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

// TokenSource supplies the bearer token for vault API calls.
type TokenSource interface {
	AccessToken() string
	Refresh(ctx context.Context) error
}

// VaultClient calls the vault HTTP API. A 401 triggers one token refresh
// and a retry.
type VaultClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func NewVaultClient(baseURL string, tokens TokenSource, httpClient *http.Client) *VaultClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &VaultClient{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient, tokens: tokens}
}

// Register announces devices on behalf of self, the calling device, and
// returns the whole namespace roster.
func (c *VaultClient) Register(ctx context.Context, namespace, self string, items []pb.RegisterItem) ([]pb.SyncPublicKeyItem, error) {
	q := pb.EncodeNamespace(namespace)
	if self != "" {
		q = pb.EncodeNamespaceKey(namespace, self)
	}
	var out []pb.SyncPublicKeyItem
	err := c.do(ctx, http.MethodPut, pb.PathRegister, q, pb.RegisterRequest{Items: items}, &out)
	return out, err
}

func (c *VaultClient) Stats(ctx context.Context, namespace, publicKey string) (*pb.SyncStats, error) {
	var out pb.SyncStats
	if err := c.do(ctx, http.MethodGet, pb.PathStats, pb.EncodeNamespaceKey(namespace, publicKey), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *VaultClient) UpdateNote(ctx context.Context, namespace, publicKey, note string) error {
	return c.do(ctx, http.MethodPatch, pb.PathUpdate, pb.EncodeNamespaceKey(namespace, publicKey), pb.UpdateNoteRequest{Note: note}, nil)
}

// Destroy schedules the deletion of a device vault after the grace period.
func (c *VaultClient) Destroy(ctx context.Context, namespace, publicKey string) error {
	return c.do(ctx, http.MethodDelete, pb.PathDestroy, pb.EncodeNamespaceKey(namespace, publicKey), nil, nil)
}

func (c *VaultClient) DestroyStatus(ctx context.Context, namespace, publicKey string) (*pb.DestroyStatus, error) {
	var out pb.DestroyStatus
	if err := c.do(ctx, http.MethodGet, pb.PathDestroy, pb.EncodeNamespaceKey(namespace, publicKey), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *VaultClient) do(ctx context.Context, method, path, q string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		_ = resp.Body.Close()
		if rerr := c.tokens.Refresh(ctx); rerr != nil {
			return fmt.Errorf("%w: %w", ErrUnauthorized, rerr)
		}
		if resp, err = c.send(ctx, method, path, q, body); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *VaultClient) send(ctx context.Context, method, path, q string, body []byte) (*http.Response, error) {
	u := c.baseURL + path + "?" + url.Values{"q": {q}}.Encode()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	var body pb.ErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusForbidden && body.Code != 0:
		return &QuotaExceededError{Code: body.Code, Limit: body.Limit, Current: body.Current, Message: msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &TooManyRequestsError{RetryAfter: time.Duration(secs) * time.Second}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s: %w", msg, common.ErrorBadRequest)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, common.ErrorNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, common.ErrorAlreadyExists)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
}
