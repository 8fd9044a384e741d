package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBuildInitConfigIsLoadableYAML(t *testing.T) {
	body := buildInitConfig("libsql://tavern.turso.io", "secret", "store")

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(body), &parsed))

	storeSection := parsed["store"].(map[string]any)
	assert.Equal(t, "libsql://tavern.turso.io", storeSection["url"])
	assert.Equal(t, "secret", storeSection["auth_token"])
	assert.Equal(t, "store", parsed["rate_limit_store"])
	assert.Equal(t, 800000, parsed["sync"].(map[string]any)["max_payload_bytes"])
	assert.NotContains(t, parsed, "rate_limits")
}

func TestBuildInitConfigLocalStore(t *testing.T) {
	body := buildInitConfig("", "", "memory")

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(body), &parsed))
	assert.NotContains(t, parsed["store"].(map[string]any), "url")
	assert.Equal(t, "memory", parsed["rate_limit_store"])
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "libsql://tavern.turso.io", redactURL("libsql://tavern.turso.io?authToken=abc"))
	assert.Equal(t, "https://db.example.com/x", redactURL("https://user:pw@db.example.com/x"))
	assert.Equal(t, "file:./local.db", redactURL("file:./local.db"))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 bytes", formatFileSize(512))
	assert.Equal(t, "1.5 KB", formatFileSize(1536))
	assert.Equal(t, "2.0 MB", formatFileSize(2*1024*1024))
}
