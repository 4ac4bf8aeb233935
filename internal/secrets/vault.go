// Package secrets replaces secret references in backend configuration
// sections with values read from Vault.
//
// A reference is a string value of the form "vault:<path>#<field>". KV v2
// responses (data nested under "data") and KV v1 responses are both accepted.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/open-sspm/open-ils/internal/ils"
)

const refPrefix = "vault:"

// Resolver rewrites a configuration section, substituting secret references.
type Resolver interface {
	Resolve(ctx context.Context, section ils.Section) (ils.Section, error)
}

type Options struct {
	Address   string
	Token     string
	Namespace string
}

// VaultResolver resolves references against a Vault server. The client is
// created on the first reference, so sections without references never need
// Vault to be configured.
type VaultResolver struct {
	opts Options

	mu     sync.Mutex
	client *vaultapi.Client
}

func NewVaultResolver(opts Options) *VaultResolver {
	return &VaultResolver{opts: opts}
}

// Resolve returns section with every reference replaced. A section without
// references is returned as is.
func (r *VaultResolver) Resolve(ctx context.Context, section ils.Section) (ils.Section, error) {
	if !hasRefs(section) {
		return section, nil
	}
	cache := make(map[string]map[string]any)
	out, err := r.resolveMap(ctx, section, cache)
	if err != nil {
		return nil, err
	}
	return ils.Section(out), nil
}

func (r *VaultResolver) resolveMap(ctx context.Context, m map[string]any, cache map[string]map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, val := range m {
		switch v := val.(type) {
		case string:
			ref, ok := ParseRef(v)
			if !ok {
				out[key] = v
				continue
			}
			secret, err := r.lookup(ctx, ref, cache)
			if err != nil {
				return nil, fmt.Errorf("resolve %q: %w", key, err)
			}
			out[key] = secret
		case ils.Section:
			nested, err := r.resolveMap(ctx, v, cache)
			if err != nil {
				return nil, err
			}
			out[key] = ils.Section(nested)
		case map[string]any:
			nested, err := r.resolveMap(ctx, v, cache)
			if err != nil {
				return nil, err
			}
			out[key] = nested
		default:
			out[key] = val
		}
	}
	return out, nil
}

func (r *VaultResolver) lookup(ctx context.Context, ref Ref, cache map[string]map[string]any) (string, error) {
	data, ok := cache[ref.Path]
	if !ok {
		client, err := r.vaultClient()
		if err != nil {
			return "", err
		}
		secret, err := client.Logical().ReadWithContext(ctx, ref.Path)
		if err != nil {
			return "", fmt.Errorf("vault read %s: %w", ref.Path, err)
		}
		if secret == nil || secret.Data == nil {
			return "", fmt.Errorf("vault read %s: secret not found", ref.Path)
		}
		data = secret.Data
		if nested, ok := data["data"].(map[string]any); ok {
			data = nested
		}
		cache[ref.Path] = data
	}
	value, ok := data[ref.Field]
	if !ok {
		return "", fmt.Errorf("vault secret %s has no field %q", ref.Path, ref.Field)
	}
	return fmt.Sprint(value), nil
}

func (r *VaultResolver) vaultClient() (*vaultapi.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	address := strings.TrimSpace(r.opts.Address)
	if address == "" {
		return nil, errors.New("vault address is required to resolve secret references")
	}
	token := strings.TrimSpace(r.opts.Token)
	if token == "" {
		return nil, errors.New("vault token is required to resolve secret references")
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient = &http.Client{Timeout: 30 * time.Second}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client setup: %w", err)
	}
	if ns := strings.TrimSpace(r.opts.Namespace); ns != "" {
		client.SetNamespace(ns)
	}
	client.SetToken(token)
	r.client = client
	return client, nil
}

// Ref is a parsed secret reference.
type Ref struct {
	Path  string
	Field string
}

// ParseRef parses "vault:<path>#<field>".
func ParseRef(value string) (Ref, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), refPrefix)
	if !ok {
		return Ref{}, false
	}
	path, field, ok := strings.Cut(rest, "#")
	path = strings.Trim(strings.TrimSpace(path), "/")
	field = strings.TrimSpace(field)
	if !ok || path == "" || field == "" {
		return Ref{}, false
	}
	return Ref{Path: path, Field: field}, true
}

func hasRefs(m map[string]any) bool {
	for _, val := range m {
		switch v := val.(type) {
		case string:
			if _, ok := ParseRef(v); ok {
				return true
			}
		case ils.Section:
			if hasRefs(v) {
				return true
			}
		case map[string]any:
			if hasRefs(v) {
				return true
			}
		}
	}
	return false
}
