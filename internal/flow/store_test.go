package flow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, NewState(), got)

	s := discoveredState()
	s.Step = StepToken
	s.AccessToken = "at"
	s.AuthorizationInput = &AuthorizationInput{ClientID: "oidc-playground", Scope: "openid"}
	require.NoError(t, store.Save(ctx, s))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	// Saves overwrite the whole blob.
	require.NoError(t, store.Save(ctx, State{Step: StepDiscovery, Issuer: "x"}))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Step: StepDiscovery, Issuer: "x"}, got)

	require.NoError(t, store.Clear(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, NewState(), got)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "playground.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, path, store.Path())
	exerciseStore(t, store)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "playground.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	s := discoveredState()
	require.NoError(t, store.Save(context.Background(), s))
	require.NoError(t, store.Close())

	store, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.Discovery, got.Discovery)
}

func TestDecodeState_DefaultsStep(t *testing.T) {
	t.Parallel()

	s, err := decodeState([]byte(`{"issuer":"http://kc/realms/demo"}`))
	require.NoError(t, err)
	assert.Equal(t, StepDiscovery, s.Step)

	_, err = decodeState([]byte(`not json`))
	assert.Error(t, err)
}
