package protection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pristine-labs/coreguard/internal/types"
)

// writeFixture creates a file under root, creating parent directories
func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// healthyRepo lays out a fixture repository that passes the default audit
func healthyRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFixture(t, root, "src/types/agent.ts", "export interface Agent { id: string }\n")
	writeFixture(t, root, "src/lib/core/engine.ts", "export const engine = true\n")
	writeFixture(t, root, "supabase/schema.sql", "create table transformations (id text primary key);\n")
	writeFixture(t, root, "package.json", `{"name": "webapp"}`)
	writeFixture(t, root, "tsconfig.json", `{"compilerOptions": {}}`)
	return root
}

func TestAuditCoreIntegrity_Healthy(t *testing.T) {
	c, err := NewClassifier(DefaultPolicy(), healthyRepo(t))
	require.NoError(t, err)

	result := c.AuditCoreIntegrity()
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Violations)
	assert.Len(t, result.ProtectedPaths, len(DefaultAuditTargets()))
}

func TestAuditCoreIntegrity_MissingCriticalFile(t *testing.T) {
	root := healthyRepo(t)
	require.NoError(t, os.Remove(filepath.Join(root, "src/types/agent.ts")))

	c, err := NewClassifier(DefaultPolicy(), root)
	require.NoError(t, err)

	result := c.AuditCoreIntegrity()
	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, "src/types/agent.ts", result.Violations[0].Path)
	assert.Equal(t, types.SeverityCritical, result.Violations[0].Severity)
}

func TestAuditCoreIntegrity_MissingImportantFile(t *testing.T) {
	root := healthyRepo(t)
	require.NoError(t, os.Remove(filepath.Join(root, "tsconfig.json")))

	c, err := NewClassifier(DefaultPolicy(), root)
	require.NoError(t, err)

	result := c.AuditCoreIntegrity()
	// An important-tier target is an error, not a blocker.
	assert.True(t, result.IsValid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, types.SeverityError, result.Violations[0].Severity)
}

func TestAuditCoreIntegrity_FailedContentCheck(t *testing.T) {
	root := healthyRepo(t)
	// Source file expected to export symbols no longer does.
	writeFixture(t, root, "src/types/agent.ts", "// emptied out\n")
	// Important-tier config file loses its required key.
	writeFixture(t, root, "package.json", "{}")

	c, err := NewClassifier(DefaultPolicy(), root)
	require.NoError(t, err)

	result := c.AuditCoreIntegrity()
	assert.False(t, result.IsValid)
	require.Len(t, result.Violations, 2)

	byPath := map[string]types.Severity{}
	for _, v := range result.Violations {
		byPath[v.Path] = v.Severity
	}
	assert.Equal(t, types.SeverityCritical, byPath["src/types/agent.ts"])
	assert.Equal(t, types.SeverityError, byPath["package.json"])
}

func TestAuditCoreIntegrity_Idempotent(t *testing.T) {
	root := healthyRepo(t)
	require.NoError(t, os.Remove(filepath.Join(root, "supabase/schema.sql")))

	c, err := NewClassifier(DefaultPolicy(), root)
	require.NoError(t, err)

	first := c.AuditCoreIntegrity()
	second := c.AuditCoreIntegrity()
	assert.Equal(t, first.Violations, second.Violations)
	assert.Equal(t, first.IsValid, second.IsValid)
}

func TestEnforceProtection(t *testing.T) {
	root := healthyRepo(t)
	c, err := NewClassifier(DefaultPolicy(), root)
	require.NoError(t, err)
	assert.NoError(t, c.EnforceProtection())

	require.NoError(t, os.Remove(filepath.Join(root, "src/types/agent.ts")))
	require.NoError(t, os.Remove(filepath.Join(root, "supabase/schema.sql")))

	err = c.EnforceProtection()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRITICAL")
	assert.Contains(t, err.Error(), "src/types/agent.ts")
	assert.Contains(t, err.Error(), "supabase/schema.sql")
}

func TestEnforceProtection_NonCriticalDoesNotBlock(t *testing.T) {
	root := healthyRepo(t)
	require.NoError(t, os.Remove(filepath.Join(root, "package.json")))

	c, err := NewClassifier(DefaultPolicy(), root)
	require.NoError(t, err)
	assert.NoError(t, c.EnforceProtection())
}
