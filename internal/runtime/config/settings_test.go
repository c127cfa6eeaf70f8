package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSignIn() SignInResponse {
	return SignInResponse{
		Sas:            "SharedAccessSignature sr=abc",
		Debug:          true,
		State:          "Inactive",
		Port:           8080,
		Tags:           []string{"factory-a"},
		Protocol:       "channel",
		HubURI:         "wss://hub.example.com",
		OrganizationID: "org-1",
	}
}

func TestApplySignIn(t *testing.T) {
	cfg := validConfig()
	cfg.ApplySignIn(sampleSignIn())

	assert.True(t, cfg.Debug)
	assert.Equal(t, "Inactive", cfg.State)
	assert.False(t, cfg.IsActive())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"factory-a"}, cfg.Tags)
	assert.Equal(t, "wss://hub.example.com", cfg.HubURI)
	assert.Equal(t, "org-1", cfg.OrganizationID)

	cfg.ApplySignIn(SignInResponse{})
	assert.Equal(t, "Inactive", cfg.State, "empty state keeps the current one")
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.Debug)
}

func TestSaveRedactedSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	require.NoError(t, SaveRedactedSettings(path, "node-1", sampleSignIn()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "debug")
	assert.NotContains(t, string(raw), "factory-a")
	assert.NotContains(t, string(raw), "8080")

	saved, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "node-1", saved.NodeName)
	assert.Equal(t, "SharedAccessSignature sr=abc", saved.Sas)
	assert.Equal(t, "org-1", saved.OrganizationID)
	assert.False(t, saved.Debug)
	assert.Empty(t, saved.State)
	assert.Zero(t, saved.Port)
	assert.Empty(t, saved.Tags)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadSignIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signin.json")
	doc := `{"sas":"s","state":"Active","tags":["a"],"itineraries":[{"itineraryId":"it-1","activities":[]}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	resp, err := LoadSignIn(path)
	require.NoError(t, err)
	assert.Equal(t, "Active", resp.State)
	require.Len(t, resp.Itineraries, 1)
	assert.Equal(t, "it-1", resp.Itineraries[0].ItineraryID)

	_, err = LoadSignIn(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
