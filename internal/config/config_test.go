package config

import (
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "freightline", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_CallDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Call.RingTimeout != 45*time.Second {
		t.Fatalf("expected default ring timeout, got %v", c.Call.RingTimeout)
	}
	if len(c.Call.STUNServers) == 0 {
		t.Fatalf("expected default STUN servers")
	}
}

func TestValidate_KeepsExplicitCallConfig(t *testing.T) {
	c := validBase()
	c.Call.RingTimeout = 10 * time.Second
	c.Call.STUNServers = []string{"stun:stun.example.com:3478"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Call.RingTimeout != 10*time.Second {
		t.Fatalf("explicit ring timeout overwritten: %v", c.Call.RingTimeout)
	}
	if len(c.Call.STUNServers) != 1 || c.Call.STUNServers[0] != "stun:stun.example.com:3478" {
		t.Fatalf("explicit STUN servers overwritten: %v", c.Call.STUNServers)
	}
}
