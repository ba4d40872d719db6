package guardrail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pristine-labs/coreguard/internal/types"
)

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(nil)

	assert.Equal(t, ".", r.workingDir)
	assert.Equal(t, []types.GuardrailName{
		types.GuardrailTypecheck,
		types.GuardrailLint,
		types.GuardrailTest,
		types.GuardrailBuild,
	}, r.Names())
}

func TestRun_Pass(t *testing.T) {
	r := NewRunner(&Config{
		Commands: []Command{
			{Name: types.GuardrailTest, Argv: []string{"sh", "-c", "echo ok"}},
		},
	})

	result := r.Run(context.Background(), types.GuardrailTest)

	assert.Equal(t, types.GuardrailPass, result.Status)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	assert.Contains(t, result.Stdout, "ok")
	assert.False(t, result.Timestamp.IsZero())
}

func TestRun_Fail(t *testing.T) {
	r := NewRunner(&Config{
		Commands: []Command{
			{Name: types.GuardrailLint, Argv: []string{"sh", "-c", "echo broken >&2; exit 3"}},
		},
	})

	result := r.Run(context.Background(), types.GuardrailLint)

	assert.Equal(t, types.GuardrailFail, result.Status)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 3, *result.ExitCode)
	assert.Contains(t, result.Stderr, "broken")
}

func TestRun_MissingBinary(t *testing.T) {
	r := NewRunner(&Config{
		Commands: []Command{
			{Name: types.GuardrailBuild, Argv: []string{"definitely-not-a-real-binary-xyz"}},
		},
	})

	result := r.Run(context.Background(), types.GuardrailBuild)

	assert.Equal(t, types.GuardrailError, result.Status)
	assert.Nil(t, result.ExitCode)
	assert.NotEmpty(t, result.Stderr)
}

func TestRun_Unconfigured(t *testing.T) {
	r := NewRunner(&Config{
		Commands: []Command{
			{Name: types.GuardrailTest, Argv: []string{"sh", "-c", "true"}},
		},
	})

	result := r.Run(context.Background(), types.GuardrailE2E)

	assert.Equal(t, types.GuardrailSkip, result.Status)
}

func TestRun_Timeout(t *testing.T) {
	r := NewRunner(&Config{
		Timeout: 50 * time.Millisecond,
		Commands: []Command{
			{Name: types.GuardrailTest, Argv: []string{"sh", "-c", "sleep 5"}},
		},
	})

	result := r.Run(context.Background(), types.GuardrailTest)

	assert.Equal(t, types.GuardrailError, result.Status)
	assert.Contains(t, result.Stderr, "timed out")
}

func TestRun_SequentialOrder(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(&Config{
		WorkingDir: dir,
		Commands: []Command{
			{Name: types.GuardrailTypecheck, Argv: []string{"sh", "-c", "echo first > order.txt"}},
			{Name: types.GuardrailLint, Argv: []string{"sh", "-c", "cat order.txt"}},
		},
	})

	ctx := context.Background()
	first := r.Run(ctx, types.GuardrailTypecheck)
	require.Equal(t, types.GuardrailPass, first.Status)

	// Later gates can rely on artifacts produced by earlier ones.
	second := r.Run(ctx, types.GuardrailLint)
	assert.Equal(t, types.GuardrailPass, second.Status)
	assert.Contains(t, second.Stdout, "first")
}
