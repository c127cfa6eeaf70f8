package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/edgeflow/internal/runtime/config"
	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/host"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
	"github.com/drblury/edgeflow/internal/runtime/retrystore"
)

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	return writeBrokerConfig(t, dir, "channel", extra)
}

func writeBrokerConfig(t *testing.T, dir, broker, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "edgenode.yaml")
	body := "nodeName: edge-cli\n" +
		"pubSubSystem: " + broker + "\n" +
		"persistDir: " + filepath.Join(dir, "pending") + "\n" +
		"restoreDelay: 1h\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func writeSignIn(t *testing.T, dir string, its ...itinerary.Itinerary) string {
	t.Helper()
	data, err := jsoncodec.Marshal(configpkg.SignInResponse{State: "Active", Itineraries: its})
	require.NoError(t, err)
	path := filepath.Join(dir, "signin.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func activity(id, hostAssignment, typ string, enabled any) itinerary.Activity {
	general := []itinerary.Setting{{ID: itinerary.KeyHost, Value: hostAssignment}}
	if enabled != nil {
		general = append(general, itinerary.Setting{ID: itinerary.KeyEnabled, Value: enabled})
	}
	return itinerary.Activity{
		ID:       "g-" + id,
		UserData: itinerary.UserData{ID: id, Type: typ, Config: &itinerary.ActivityConfig{GeneralConfig: general}},
	}
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["validate"])
	assert.True(t, names["pending"])

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, DefaultConfigFile, flag.DefValue)
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := WrapExitError(ExitCommandError, "failed", cause)
	assert.Equal(t, "failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "plain", (&ExitError{Message: "plain"}).Error())
}

func TestValidateConfigOnly(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, context.Background(), "validate", "--config", writeConfig(t, dir, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid (node edge-cli, broker channel, store file)")
}

func TestValidateInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, context.Background(), "validate", "--config", writeBrokerConfig(t, dir, "kafka", ""))
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitCommandError, exitErr.Code)
	assert.Contains(t, err.Error(), "kafka: brokers are required")
	assert.Contains(t, out, "✗ Configuration invalid")
}

func TestValidateMissingConfigFile(t *testing.T) {
	_, err := execute(t, context.Background(), "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitCommandError, exitErr.Code)
}

func TestValidateListsActivitiesOnThisNode(t *testing.T) {
	dir := t.TempDir()
	signIn := writeSignIn(t, dir, itinerary.Itinerary{
		ItineraryID:     "it-1",
		IntegrationName: "orders",
		Activities: []itinerary.Activity{
			activity("state", "edge-cli", host.TypeStateReceive, true),
			activity("script", "edge-cli", "transform", true),
			activity("off", "edge-cli", "transform", false),
			activity("remote", "edge-2", "transform", true),
		},
	})

	out, err := execute(t, context.Background(), "validate", "--config", writeConfig(t, dir, ""), "--sign-in", signIn)
	require.NoError(t, err)
	assert.Contains(t, out, "Itinerary it-1 (orders): 3 activities on this node")
	assert.Contains(t, out, "built-in")
	assert.Contains(t, out, "script")
	assert.Contains(t, out, "disabled")
	assert.NotContains(t, out, "remote")
}

func TestValidateReportsBrokenActivities(t *testing.T) {
	dir := t.TempDir()
	signIn := writeSignIn(t, dir, itinerary.Itinerary{
		ItineraryID: "it-1",
		Activities: []itinerary.Activity{
			activity("no-flag", "edge-cli", "transform", nil),
			activity("no-type", "edge-cli", "", true),
		},
	})

	out, err := execute(t, context.Background(), "validate", "--config", writeConfig(t, dir, ""), "--sign-in", signIn)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitFailure, exitErr.Code)
	assert.Contains(t, err.Error(), "2 activities cannot start")
	assert.Contains(t, out, "no unit type")
	assert.Contains(t, out, `missing config entry "enabled"`)
}

func TestPendingEmptyStore(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, context.Background(), "pending", "--config", writeConfig(t, dir, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "No pending items.")
}

func TestPendingListsAndDiscardsCorrupt(t *testing.T) {
	dir := t.TempDir()
	config := writeConfig(t, dir, "")
	pendingDir := filepath.Join(dir, "pending")

	store, err := retrystore.NewFileStore(pendingDir)
	require.NoError(t, err)
	ctx := context.Background()
	env := envelope.New(envelope.Origin{ItineraryID: "it-1", Activity: "A"}, "", []byte(`{}`))
	_, err = store.PutMessage(ctx, env, "edge-2", "B")
	require.NoError(t, err)
	_, err = store.PutTracking(ctx, envelope.TrackingRecord{InterchangeID: env.InterchangeID, LastActivity: "A", State: envelope.StateStarted})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pendingDir, "broken"), []byte("{not json"), 0o644))

	out, err := execute(t, ctx, "pending", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "-> edge-2/B")
	assert.Contains(t, out, "tracking")
	assert.Contains(t, out, "corrupt   broken\n")
	assert.Contains(t, out, "1 messages, 1 tracking records, 1 corrupt")
	assert.FileExists(t, filepath.Join(pendingDir, "broken"))

	out, err = execute(t, ctx, "pending", "--config", config, "--discard-corrupt")
	require.NoError(t, err)
	assert.Contains(t, out, "corrupt   broken (discarded)")
	assert.NoFileExists(t, filepath.Join(pendingDir, "broken"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestRunRequiresSignIn(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, context.Background(), "run", "--config", writeConfig(t, dir, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "sign-in")
}

func TestRunMissingSignInFile(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, context.Background(), "run", "--config", writeConfig(t, dir, ""), "--sign-in", filepath.Join(dir, "nope.json"))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitCommandError, exitErr.Code)
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "settings.json")
	config := writeConfig(t, dir, "settingsFile: "+settings+"\n")
	signIn := writeSignIn(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := execute(t, ctx, "run", "--config", config, "--sign-in", signIn)
	require.NoError(t, err)
	assert.Contains(t, out, "Node edge-cli running")
	assert.FileExists(t, settings)
	assert.DirExists(t, filepath.Join(dir, "pending"))
}
