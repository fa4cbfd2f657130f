package functions

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/room4-2/kolokwa/style"
)

func TestHandle(t *testing.T) {
	got := Handle([]*genai.FunctionCall{
		{ID: "1", Name: GetCreatorInformation},
		nil,
		{ID: "2", Name: "OrderPizza"},
	})
	require.Len(t, got, 2)

	require.Equal(t, "1", got[0].ID)
	require.Contains(t, got[0].Response["output"], style.CreatorIdentity)

	require.Equal(t, "OrderPizza", got[1].Name)
	require.Equal(t, "Unknown function: OrderPizza", got[1].Response["error"])
}

func TestTools(t *testing.T) {
	tools := Tools()
	require.Len(t, tools, 1)
	require.Equal(t, GetCreatorInformation, tools[0].FunctionDeclarations[0].Name)
}
