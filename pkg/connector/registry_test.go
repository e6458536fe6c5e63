package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConnector struct{}

func (nopConnector) FetchCostAndUsage(context.Context, domain.ProviderAccount, time.Time, time.Time) ([]domain.RawLineItem, error) {
	return nil, nil
}

func (nopConnector) TestConnection(context.Context, domain.ProviderAccount) (bool, Diagnostic) {
	return true, OK("")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	builds := 0
	require.NoError(t, r.Register(domain.ProviderAWS, func() (Connector, error) {
		builds++
		return nopConnector{}, nil
	}))
	require.NoError(t, r.Register(domain.ProviderAzure, func() (Connector, error) {
		return nil, errors.New("missing tenant")
	}))

	t.Run("duplicate registration", func(t *testing.T) {
		err := r.Register(domain.ProviderAWS, func() (Connector, error) { return nopConnector{}, nil })
		assert.Error(t, err)
	})

	t.Run("nil factory", func(t *testing.T) {
		assert.Error(t, r.Register(domain.ProviderGCP, nil))
	})

	t.Run("built once", func(t *testing.T) {
		_, err := r.Get(domain.ProviderAWS)
		require.NoError(t, err)
		_, err = r.Get(domain.ProviderAWS)
		require.NoError(t, err)
		assert.Equal(t, 1, builds)
	})

	t.Run("factory error", func(t *testing.T) {
		_, err := r.Get(domain.ProviderAzure)
		assert.Error(t, err)
	})

	t.Run("unregistered", func(t *testing.T) {
		_, err := r.Get(domain.ProviderGCP)
		assert.Equal(t, errkind.InvalidInput, errkind.KindOf(err))
	})

	assert.Equal(t, []domain.Provider{domain.ProviderAWS, domain.ProviderAzure}, r.ListProviders())
}
