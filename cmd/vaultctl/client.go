package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
	"github.com/archwes/ZeroGuard-sub001/internal/session"
	"github.com/archwes/ZeroGuard-sub001/internal/srp"
)

// Wire types mirror the server API. []byte fields travel base64
// encoded by encoding/json on both ends.

type kdfWire struct {
	M uint32 `json:"m_kib"`
	T uint32 `json:"t"`
	P uint8  `json:"p"`
}

func (k kdfWire) params() crypto.KDFParams {
	return crypto.KDFParams{M: k.M, T: k.T, P: k.P}
}

type enrollReq struct {
	Identity string  `json:"identity"`
	Salt     []byte  `json:"salt"`
	Verifier []byte  `json:"verifier"`
	KDF      kdfWire `json:"kdf"`
}

type srpParamsResp struct {
	Salt []byte  `json:"salt"`
	KDF  kdfWire `json:"kdf"`
}

type srpStartReq struct {
	Identity string `json:"identity"`
	A        []byte `json:"a"`
}

type srpStartResp struct {
	HandshakeID string  `json:"handshake_id"`
	Salt        []byte  `json:"salt"`
	KDF         kdfWire `json:"kdf"`
	B           []byte  `json:"b"`
}

type srpVerifyReq struct {
	HandshakeID string `json:"handshake_id"`
	M1          []byte `json:"m1"`
}

type srpVerifyResp struct {
	M2        []byte `json:"m2"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type accountResp struct {
	Identity string  `json:"identity"`
	Salt     []byte  `json:"salt"`
	Verifier []byte  `json:"verifier"`
	KDF      kdfWire `json:"kdf"`
}

type envelopeWire struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Data       []byte `json:"data"`
	WrappedKey []byte `json:"wrapped_key"`
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Version    int    `json:"version"`
}

type rewrapWire struct {
	ID         string `json:"id"`
	WrappedKey []byte `json:"wrapped_key"`
}

type rotateReq struct {
	Salt     []byte       `json:"salt"`
	Verifier []byte       `json:"verifier"`
	KDF      kdfWire      `json:"kdf"`
	Wraps    []rewrapWire `json:"wraps"`
}

type apiClient struct {
	base  string
	hc    *http.Client
	token string
	bind  string // hex token-binding key, proves the handshake behind the token
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.bind != "" {
		req.Header.Set("X-Binding-Key", c.bind)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s (%s)", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *apiClient) enroll(req enrollReq) error {
	return c.do(http.MethodPost, "/api/enroll", req, nil)
}

// login fetches the public enrollment parameters, derives the keys,
// and runs one SRP handshake. On success the returned session owns
// the MEK and the client keeps the bearer token plus the binding key
// it sends on sensitive requests. The password is consumed either way.
func (c *apiClient) login(identity string, password []byte) (*session.Session, error) {
	var params srpParamsResp
	if err := c.do(http.MethodGet, "/api/srp/params?identity="+url.QueryEscape(identity), nil, &params); err != nil {
		crypto.Zero(password)
		return nil, err
	}

	keys, err := crypto.DeriveKeys(password, params.Salt, params.KDF.params())
	if err != nil {
		return nil, err
	}

	cl := srp.NewClient(identity, &keys.AK)
	defer cl.Close()
	bigA, err := cl.Start()
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	var start srpStartResp
	if err := c.do(http.MethodPost, "/api/srp/start", srpStartReq{Identity: identity, A: bigA}, &start); err != nil {
		keys.Wipe()
		return nil, err
	}
	m1, err := cl.SetServerEphemeral(start.Salt, start.B)
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	var verify srpVerifyResp
	if err := c.do(http.MethodPost, "/api/srp/verify", srpVerifyReq{HandshakeID: start.HandshakeID, M1: m1}, &verify); err != nil {
		keys.Wipe()
		return nil, err
	}
	if err := cl.VerifyServerProof(verify.M2); err != nil {
		keys.Wipe()
		return nil, fmt.Errorf("server proof rejected: %w", err)
	}

	srpKey, err := cl.Key()
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	sess, err := session.New(identity, &keys.MEK, srpKey)
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	crypto.Zero(keys.AK[:])

	bk, err := sess.TokenKey()
	if err != nil {
		sess.Close()
		return nil, err
	}
	c.token = verify.Token
	c.bind = hex.EncodeToString(bk)
	crypto.Zero(bk)
	return sess, nil
}

// account fetches the caller's own enrollment record; rotate uses it
// to keep the enrolled KDF costs across a password change.
func (c *apiClient) account() (accountResp, error) {
	var out accountResp
	err := c.do(http.MethodGet, "/api/account", nil, &out)
	return out, err
}

func (c *apiClient) listItems(kind string) ([]envelopeWire, error) {
	path := "/api/items"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	var out []envelopeWire
	err := c.do(http.MethodGet, path, nil, &out)
	return out, err
}

func (c *apiClient) getItem(id string) (envelopeWire, error) {
	var out envelopeWire
	err := c.do(http.MethodGet, "/api/items/"+id, nil, &out)
	return out, err
}

func (c *apiClient) putItem(e envelopeWire) error {
	return c.do(http.MethodPut, "/api/items/"+e.ID, e, nil)
}

func (c *apiClient) deleteItem(id string) error {
	return c.do(http.MethodDelete, "/api/items/"+id, nil, nil)
}

func (c *apiClient) rotate(req rotateReq) error {
	return c.do(http.MethodPost, "/api/rotate", req, nil)
}
