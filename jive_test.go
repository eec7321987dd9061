package jive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreRoundTrip(t *testing.T) {
	st, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.CreateWorkItem(ctx, &WorkItem{
		ID:          "init-1",
		Type:        TypeInitiative,
		Title:       "Ship the launch",
		Description: "Umbrella for the launch effort",
	}))

	got, err := st.GetWorkItem(ctx, "init-1")
	require.NoError(t, err)
	assert.Equal(t, StatusBacklog, got.Status)
	assert.Equal(t, TypeInitiative, got.Type)
}
