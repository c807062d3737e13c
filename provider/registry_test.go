package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider implements Provider interface for testing
type mockProvider struct {
	name string
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Call(ctx context.Context, req *Request) (*Response, error) {
	return &Response{Provider: m.name, StatusCode: 200, Body: []byte(`{}`)}, nil
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name         string
		providerName string
		factory      Factory
	}{
		{
			name:         "register single provider",
			providerName: "test-provider",
			factory: func() (Provider, error) {
				return &mockProvider{name: "test-provider"}, nil
			},
		},
		{
			name:         "register with different name",
			providerName: "another-provider",
			factory: func() (Provider, error) {
				return &mockProvider{name: "another-provider"}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()

			r.Register(tt.providerName, tt.factory)
			assert.True(t, r.IsRegistered(tt.providerName))
		})
	}
}

func TestRegister_Overwrite(t *testing.T) {
	r := NewRegistry()

	r.Register("test", func() (Provider, error) {
		return &mockProvider{name: "first"}, nil
	})
	r.Register("test", func() (Provider, error) {
		return &mockProvider{name: "second"}, nil
	})

	p, err := r.Get("test")
	require.NoError(t, err)
	assert.Equal(t, "second", p.Name())
}

func TestGet(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(r *Registry)
		providerName string
		wantErr      bool
		wantName     string
	}{
		{
			name: "get existing provider",
			setup: func(r *Registry) {
				r.Register("existing", func() (Provider, error) {
					return &mockProvider{name: "existing"}, nil
				})
			},
			providerName: "existing",
			wantName:     "existing",
		},
		{
			name:         "get unknown provider",
			setup:        func(r *Registry) {},
			providerName: "unknown",
			wantErr:      true,
		},
		{
			name: "factory returns error",
			setup: func(r *Registry) {
				r.Register("error-factory", func() (Provider, error) {
					return nil, errors.New("factory error")
				})
			},
			providerName: "error-factory",
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			tt.setup(r)

			p, err := r.Get(tt.providerName)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestGet_FreshInstancePerCall(t *testing.T) {
	r := NewRegistry()
	r.Register("fresh", func() (Provider, error) {
		return &mockProvider{name: "fresh"}, nil
	})

	a, err := r.Get("fresh")
	require.NoError(t, err)
	b, err := r.Get("fresh")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestGet_ErrorIncludesAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register("provider-a", func() (Provider, error) {
		return &mockProvider{name: "provider-a"}, nil
	})
	r.Register("provider-b", func() (Provider, error) {
		return &mockProvider{name: "provider-b"}, nil
	})

	_, err := r.Get("unknown")
	require.Error(t, err)

	errStr := err.Error()
	assert.Contains(t, errStr, "unknown")
	assert.Contains(t, errStr, "provider-a")
	assert.Contains(t, errStr, "provider-b")
}

func TestAvailable_Sorted(t *testing.T) {
	r := NewRegistry()
	r.Register("gemini", func() (Provider, error) { return &mockProvider{}, nil })
	r.Register("anthropic", func() (Provider, error) { return &mockProvider{}, nil })
	r.Register("openai", func() (Provider, error) { return &mockProvider{}, nil })

	assert.Equal(t, []string{"anthropic", "gemini", "openai"}, r.Available())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	r.Register("concurrent", func() (Provider, error) {
		return &mockProvider{name: "concurrent"}, nil
	})

	var wg sync.WaitGroup
	iterations := 100

	for i := 0; i < iterations; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.Get("concurrent")
			_ = r.Available()
			_ = r.IsRegistered("concurrent")
		}()
		go func() {
			defer wg.Done()
			r.Register("concurrent", func() (Provider, error) {
				return &mockProvider{name: "concurrent"}, nil
			})
		}()
	}

	wg.Wait()

	assert.True(t, r.IsRegistered("concurrent"))
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		clientSide bool
		wantSubstr []string
	}{
		{
			name:       "bad request with type",
			err:        &APIError{Provider: "openai", StatusCode: 400, Type: "invalid_request_error", Message: "bad tool"},
			clientSide: true,
			wantSubstr: []string{"openai", "400", "invalid_request_error", "bad tool"},
		},
		{
			name:       "server error",
			err:        &APIError{Provider: "gemini", StatusCode: 503, Message: "overloaded"},
			clientSide: false,
			wantSubstr: []string{"gemini", "503", "overloaded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.clientSide, tt.err.ClientSide())
			for _, s := range tt.wantSubstr {
				assert.Contains(t, tt.err.Error(), s)
			}
		})
	}
}

func TestUnsupported(t *testing.T) {
	err := Unsupported("gemini", "forced google_search")
	assert.ErrorIs(t, err, ErrUnsupportedToolPolicy)
	assert.Contains(t, err.Error(), "forced google_search")
}
