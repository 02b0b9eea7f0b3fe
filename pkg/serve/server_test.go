package serve

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/praetorian-inc/augur/pkg/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peStub is the start of a PE file with the DOS stub message.
const peStub = "MZ\x90\x00\x03\x00\x00\x00This program cannot be run in DOS mode."

func newCore(t *testing.T) *scanner.Core {
	t.Helper()
	core, err := scanner.NewCore("builtin")
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })
	return core
}

// run feeds input to a fresh server and returns the decoded responses.
func run(t *testing.T, core *scanner.Core, input string) []Response {
	t.Helper()
	out := &bytes.Buffer{}
	srv := NewServer(core, strings.NewReader(input), out)
	require.NoError(t, srv.Run(context.Background()))

	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func request(t *testing.T, typ string, payload any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	line, err := json.Marshal(Request{Type: typ, Payload: raw})
	require.NoError(t, err)
	return string(line) + "\n"
}

func TestServer_SendsReadyOnStart(t *testing.T) {
	core := newCore(t)
	out := &bytes.Buffer{}
	srv := NewServer(core, strings.NewReader(""), out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately to exit after ready
	_ = srv.Run(ctx)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, TypeReady, resp.Type)

	var ready ReadyData
	require.NoError(t, json.Unmarshal(resp.Data, &ready))
	assert.Equal(t, Version, ready.Version)
	assert.Equal(t, "builtin", ready.Ruleset)
	assert.Equal(t, core.Rules().Fingerprint(), ready.Fingerprint)
	assert.Positive(t, ready.Rules)
}

func TestServer_Scan(t *testing.T) {
	core := newCore(t)

	responses := run(t, core, request(t, TypeScan, ScanPayload{Content: peStub, Source: "test"}))
	require.Len(t, responses, 2) // ready + scan response

	resp := responses[1]
	assert.True(t, resp.Success)
	assert.Equal(t, TypeScan, resp.Type)

	var result scanner.ScanResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, "test", result.Source)
	require.NotEmpty(t, result.Matches)
	assert.Equal(t, "pe.mz_dos_stub", result.Matches[0].RuleID)
}

func TestServer_ScanBase64(t *testing.T) {
	core := newCore(t)
	elf := base64.StdEncoding.EncodeToString([]byte("\x7fELF\x02\x01\x01\x00"))

	responses := run(t, core, request(t, TypeScan, ScanPayload{Content: elf, Encoding: EncodingBase64, Source: "b64"}))
	require.Len(t, responses, 2)

	var result scanner.ScanResult
	require.NoError(t, json.Unmarshal(responses[1].Data, &result))
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "elf.header", result.Matches[0].RuleID)

	responses = run(t, core, request(t, TypeScan, ScanPayload{Content: "!!", Encoding: EncodingBase64}))
	assert.False(t, responses[1].Success)
	assert.Contains(t, responses[1].Error, "base64")

	responses = run(t, core, request(t, TypeScan, ScanPayload{Content: "x", Encoding: "rot13"}))
	assert.False(t, responses[1].Success)
}

func TestServer_GracefulShutdownOnContext(t *testing.T) {
	core := newCore(t)

	// Slow reader that blocks
	pr, pw := io.Pipe()
	out := &bytes.Buffer{}
	srv := NewServer(core, pr, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	pw.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestServer_ScanBatch(t *testing.T) {
	core := newCore(t)

	responses := run(t, core, request(t, TypeScanBatch, ScanBatchPayload{Items: []scanner.ContentItem{
		{Source: "s1", Content: "plain text"},
		{Source: "s2", Content: peStub},
	}}))
	require.Len(t, responses, 2)

	resp := responses[1]
	assert.True(t, resp.Success)
	assert.Equal(t, TypeScanBatch, resp.Type)

	var batch scanner.BatchScanResult
	require.NoError(t, json.Unmarshal(resp.Data, &batch))
	require.Len(t, batch.Results, 2)
	assert.Equal(t, "s1", batch.Results[0].Source)
	assert.Empty(t, batch.Results[0].Matches)
	assert.Equal(t, "s2", batch.Results[1].Source)
	assert.NotEmpty(t, batch.Results[1].Matches)
}

func TestServer_Rules(t *testing.T) {
	core := newCore(t)

	responses := run(t, core, `{"type":"rules"}`+"\n")
	require.Len(t, responses, 2)
	require.True(t, responses[1].Success)

	var data RulesData
	require.NoError(t, json.Unmarshal(responses[1].Data, &data))
	assert.Equal(t, core.Rules().Fingerprint(), data.Fingerprint)
	assert.Len(t, data.Rules, len(core.Rules().Ruleset().Rules))

	ids := make([]string, len(data.Rules))
	for i, r := range data.Rules {
		ids[i] = r.ID
	}
	assert.Contains(t, ids, "pe.mz_dos_stub")
}

func TestServer_CloseCommand(t *testing.T) {
	core := newCore(t)

	responses := run(t, core, `{"type":"close","payload":{}}`+"\n"+`{"type":"rules"}`+"\n")
	require.Len(t, responses, 1) // Only ready signal
}

func TestServer_UnknownCommand(t *testing.T) {
	core := newCore(t)

	responses := run(t, core, `{"type":"invalid","payload":{}}`+"\n")
	require.Len(t, responses, 2)
	assert.False(t, responses[1].Success)
	assert.Contains(t, responses[1].Error, "unknown request type")
}

func TestServer_MalformedJSON(t *testing.T) {
	core := newCore(t)
	out := &bytes.Buffer{}

	srv := NewServer(core, strings.NewReader(`{invalid json}`+"\n"), out)
	_ = srv.Run(context.Background())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)

	var resp Response
	_ = json.Unmarshal([]byte(lines[1]), &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, "decode", resp.Type)
}
