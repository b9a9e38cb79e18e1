package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunRequest(t *testing.T) {
	t.Run("Should apply defaults", func(t *testing.T) {
		req, err := NewRunRequest("deploy")

		require.NoError(t, err)
		assert.Equal(t, "deploy", req.WorkflowRef())
		assert.Equal(t, GateModeAuto, req.GateMode())
		assert.False(t, req.MockMode())
		assert.Empty(t, req.Variables())
		assert.Empty(t, req.RunID())
		_, ok := req.RepoPath()
		assert.False(t, ok)
	})

	t.Run("Should keep a pinned run id", func(t *testing.T) {
		req, err := NewRunRequest("deploy", WithRunID("run-1"))
		require.NoError(t, err)
		assert.Equal(t, "run-1", req.RunID())
	})

	t.Run("Should copy variables so callers cannot mutate the request", func(t *testing.T) {
		vars := map[string]string{"env": "prod"}
		req, err := NewRunRequest("deploy", WithVariables(vars), WithMock(true), WithRepoPath("/src"))
		require.NoError(t, err)

		vars["env"] = "dev"
		got := req.Variables()
		got["env"] = "staging"

		assert.Equal(t, "prod", req.Variables()["env"])
		assert.True(t, req.MockMode())
		path, ok := req.RepoPath()
		assert.True(t, ok)
		assert.Equal(t, "/src", path)
	})

	t.Run("Should reject invalid gate modes", func(t *testing.T) {
		_, err := NewRunRequest("deploy", WithGateMode("later"))
		assert.ErrorIs(t, err, ErrInvalidGateMode)
	})

	t.Run("Should require a workflow reference", func(t *testing.T) {
		_, err := NewRunRequest("")
		assert.Error(t, err)
	})
}
