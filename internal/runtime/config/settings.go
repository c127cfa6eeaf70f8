package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
)

// SignInResponse is what the hub returns once a node has signed in.
type SignInResponse struct {
	Sas                string                `json:"sas"`
	Debug              bool                  `json:"debug"`
	State              string                `json:"state"`
	Port               int                   `json:"port"`
	Tags               []string              `json:"tags"`
	Itineraries        []itinerary.Itinerary `json:"itineraries"`
	Protocol           string                `json:"protocol"`
	InstrumentationKey string                `json:"instrumentationKey"`
	HubURI             string                `json:"hubUri"`
	OrganizationID     string                `json:"organizationId"`
}

// PersistedSettings is the settings file written after a successful sign-in.
// Debug, state, port and tags are runtime values handed out by the hub on
// every sign-in and are never written back.
type PersistedSettings struct {
	NodeName           string   `json:"nodeName"`
	OrganizationID     string   `json:"organizationId,omitempty"`
	HubURI             string   `json:"hubUri,omitempty"`
	Sas                string   `json:"sas,omitempty"`
	Protocol           string   `json:"protocol,omitempty"`
	InstrumentationKey string   `json:"instrumentationKey,omitempty"`
	Debug              bool     `json:"debug,omitempty"`
	State              string   `json:"state,omitempty"`
	Port               int      `json:"port,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// ApplySignIn copies the runtime values of a sign-in response onto the config.
// Empty values in the response leave the current setting untouched.
func (c *Config) ApplySignIn(resp SignInResponse) {
	c.Debug = resp.Debug
	if resp.State != "" {
		c.State = resp.State
	}
	if resp.Port > 0 {
		c.Port = resp.Port
	}
	if resp.Tags != nil {
		c.Tags = append([]string(nil), resp.Tags...)
	}
	if resp.HubURI != "" {
		c.HubURI = resp.HubURI
	}
	if resp.OrganizationID != "" {
		c.OrganizationID = resp.OrganizationID
	}
}

// Redact builds the settings document persisted for a sign-in response.
func Redact(nodeName string, resp SignInResponse) PersistedSettings {
	return PersistedSettings{
		NodeName:           nodeName,
		OrganizationID:     resp.OrganizationID,
		HubURI:             resp.HubURI,
		Sas:                resp.Sas,
		Protocol:           resp.Protocol,
		InstrumentationKey: resp.InstrumentationKey,
	}
}

// SaveRedactedSettings writes the redacted settings to path, replacing the
// file atomically.
func SaveRedactedSettings(path, nodeName string, resp SignInResponse) error {
	data, err := jsoncodec.MarshalIndent(Redact(nodeName, resp), "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("create settings temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// LoadSettings reads a settings file written by SaveRedactedSettings.
func LoadSettings(path string) (PersistedSettings, error) {
	var s PersistedSettings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := jsoncodec.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// LoadSignIn reads a sign-in response document, as stored by a provisioning
// step or handed over by a hub client.
func LoadSignIn(path string) (SignInResponse, error) {
	var resp SignInResponse
	data, err := os.ReadFile(path)
	if err != nil {
		return resp, fmt.Errorf("read sign-in %s: %w", path, err)
	}
	if err := jsoncodec.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("parse sign-in %s: %w", path, err)
	}
	return resp, nil
}
