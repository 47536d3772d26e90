package accounting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	Provider
	id ProviderID
}

func (s stubProvider) ID() ProviderID { return s.id }

func (s stubProvider) ValidateConnection(context.Context, *Connection) (bool, error) {
	return true, nil
}

func TestParseProviderID(t *testing.T) {
	id, err := ParseProviderID("quickbooks")
	require.NoError(t, err)
	assert.Equal(t, ProviderQuickBooks, id)

	_, err = ParseProviderID("wave")
	assert.Error(t, err)
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry(stubProvider{id: ProviderQuickBooks}, stubProvider{id: ProviderXero})

	p, err := reg.Provider(ProviderQuickBooks)
	require.NoError(t, err)
	assert.Equal(t, ProviderQuickBooks, p.ID())

	assert.Equal(t, []ProviderID{ProviderQuickBooks, ProviderXero}, reg.IDs())
}

func TestRegistry_KnownButUnregistered(t *testing.T) {
	reg := NewRegistry(stubProvider{id: ProviderQuickBooks})

	_, err := reg.Provider(ProviderFreshBooks)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, CodeNotImplemented, perr.Code)
	assert.Equal(t, ProviderFreshBooks, perr.Provider)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Provider(ProviderID("wave"))
	assert.Error(t, err)

	var perr *ProviderError
	assert.False(t, errors.As(err, &perr), "unknown ids are not NOT_IMPLEMENTED")
}

func TestTokenExpiresWithin(t *testing.T) {
	conn := &Connection{ExpiresAt: time.Now().Add(10 * time.Minute)}
	assert.False(t, conn.TokenExpiresWithin(5*time.Minute))
	assert.True(t, conn.TokenExpiresWithin(15*time.Minute))
}
