// Package gateway describes how a remote node is reached over HTTP.
package gateway

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// MessagePath is appended to every gateway path.
const MessagePath = "/v1/message"

// Auth carries either a bearer token or basic credentials.
type Auth struct {
	AccessToken string `json:"accessToken,omitempty"`
	Username    string `json:"username,omitempty" validate:"required_with=Password"`
	Password    string `json:"password,omitempty"`
}

// Config is the gateway descriptor as it travels in INFO payloads.
type Config struct {
	Endpoint string `json:"endpoint" validate:"required"`
	Port     int    `json:"port,omitempty" validate:"min=0,max=65535"`
	UseSSL   bool   `json:"useSSL,omitempty"`
	Path     string `json:"path,omitempty"`
	Auth     *Auth  `json:"auth,omitempty"`
}

var validate = validator.New()

// Validate checks the descriptor.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// Redacted returns a copy without credentials.
func (c Config) Redacted() Config {
	c.Auth = nil
	return c
}

// Gateway derives the request URL and headers from a Config.
type Gateway struct {
	cfg Config
}

func New(cfg Config) *Gateway {
	return &Gateway{cfg: cfg}
}

func (g *Gateway) Config() Config {
	return g.cfg
}

// URL returns {scheme}://{endpoint}[:{port}]{path}/v1/message.
func (g *Gateway) URL() *url.URL {
	scheme := "http"
	if g.cfg.UseSSL {
		scheme = "https"
	}
	host := g.cfg.Endpoint
	if g.cfg.Port > 0 {
		host = host + ":" + strconv.Itoa(g.cfg.Port)
	}
	return &url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   path.Join("/", g.cfg.Path, MessagePath),
	}
}

// AuthHeaders returns the Authorization header for the configured auth mode.
func (g *Gateway) AuthHeaders() http.Header {
	h := http.Header{}
	auth := g.cfg.Auth
	switch {
	case auth == nil:
	case auth.AccessToken != "":
		h.Set("Authorization", "Bearer "+auth.AccessToken)
	case auth.Username != "" || auth.Password != "":
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth.Username+":"+auth.Password)))
	}
	return h
}
