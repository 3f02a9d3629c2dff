package restreamer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"streamingpro/internal/engine"
	"streamingpro/internal/testsupport/enginestub"
)

func newTestComposer(t *testing.T, opts enginestub.Options, streamID string) (*Composer, *enginestub.Engine) {
	t.Helper()
	stub := enginestub.Start(opts)
	t.Cleanup(stub.Close)
	client, _ := engine.Config{
		BaseURL:  stub.BaseURL(),
		Username: opts.Username,
		Password: opts.Password,
	}.NewClient()
	composer := NewComposer(client, nil)
	composer.newID = func() string { return streamID }
	return composer, stub
}

func submittedConfig(t *testing.T, stub *enginestub.Engine, id string) engine.ProcessConfig {
	t.Helper()
	raw, ok := stub.ProcessConfig(id)
	if !ok {
		t.Fatalf("process %s was not submitted", id)
	}
	var cfg engine.ProcessConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("decode submitted config: %v", err)
	}
	return cfg
}

func TestCreateIngestRTMPBuildsTeeOutput(t *testing.T) {
	const streamID = "8400fb9a-bf9e-4149-a6c3-6ba0c5e00d4c"
	composer, stub := newTestComposer(t, enginestub.Options{}, streamID)

	result, err := composer.CreateIngest(context.Background(), IngestParams{
		Type: "rtmp",
		Name: "Cam1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProcessID != "restreamer-ui:ingest:"+streamID {
		t.Fatalf("unexpected process id %q", result.ProcessID)
	}
	if result.StreamID != streamID {
		t.Fatalf("unexpected stream id %q", result.StreamID)
	}

	cfg := submittedConfig(t, stub, result.ProcessID)
	if cfg.Reference != streamID {
		t.Fatalf("expected reference %q, got %q", streamID, cfg.Reference)
	}
	if len(cfg.Input) != 1 || cfg.Input[0].Address != "{rtmp,name="+streamID+".stream}" {
		t.Fatalf("unexpected input: %+v", cfg.Input)
	}
	if len(cfg.Output) != 1 {
		t.Fatalf("expected a single tee output, got %d", len(cfg.Output))
	}

	address := cfg.Output[0].Address
	targets := strings.Split(address, "|")
	if len(targets) != 3 {
		t.Fatalf("expected 3 tee targets, got %d: %s", len(targets), address)
	}
	if !strings.Contains(targets[0], "hls_list_size=12") || !strings.Contains(targets[0], "{memfs}/"+streamID+"_output_0.m3u8") {
		t.Fatalf("unexpected HLS target: %s", targets[0])
	}
	if targets[1] != "[f=flv]{rtmp,name="+streamID+".stream}" {
		t.Fatalf("unexpected RTMP target: %s", targets[1])
	}
	if targets[2] != "[f=mpegts]{srt,name="+streamID+",mode=publish}" {
		t.Fatalf("unexpected SRT target: %s", targets[2])
	}

	var purge bool
	for _, rule := range cfg.Output[0].Cleanup {
		if rule.Pattern == "memfs:/"+streamID+"**" && rule.PurgeOnDelete {
			purge = true
		}
	}
	if !purge {
		t.Fatalf("expected a purge-on-delete rule for stream-prefixed memfs artifacts: %+v", cfg.Output[0].Cleanup)
	}
	if !cfg.Autostart {
		t.Fatalf("expected ingest processes to autostart")
	}
}

func TestCreateIngestStoresDisplayMetadata(t *testing.T) {
	const streamID = "f4a9a3f2-9df5-4f9a-9a64-52a16524b613"
	composer, stub := newTestComposer(t, enginestub.Options{}, streamID)

	result, err := composer.CreateIngest(context.Background(), IngestParams{
		Type:        "srt",
		Name:        "Cam1",
		Description: "front door",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client, _ := engine.Config{BaseURL: stub.BaseURL()}.NewClient()
	process, err := client.GetProcess(context.Background(), result.ProcessID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, ok := process.Metadata[Namespace].(map[string]interface{})
	if !ok {
		t.Fatalf("expected %s metadata document, got %+v", Namespace, process.Metadata)
	}
	meta, ok := doc["meta"].(map[string]interface{})
	if !ok || meta["name"] != "Cam1" {
		t.Fatalf("expected meta.name Cam1, got %+v", doc)
	}

	cfg := submittedConfig(t, stub, result.ProcessID)
	if cfg.Input[0].Address != "{srt,name="+streamID+".stream,mode=request}" {
		t.Fatalf("unexpected SRT input address: %s", cfg.Input[0].Address)
	}
}

func TestCreateEgressSRTAddressShape(t *testing.T) {
	const egressID = "0bd7a45e-5f06-449c-b53a-95a67e2b3ba6"
	composer, stub := newTestComposer(t, enginestub.Options{}, egressID)

	result, err := composer.CreateEgress(context.Background(), EgressParams{
		Type:        "srt",
		StreamID:    "parent-stream-id",
		Name:        "Backup feed",
		URL:         "example.com",
		Port:        9000,
		Latency:     200,
		SRTStreamID: "parentStream",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := submittedConfig(t, stub, result.ProcessID)
	want := "srt://example.com:9000?latency=200&transtype=live&mode=caller&streamid=parentStream"
	if cfg.Output[0].Address != want {
		t.Fatalf("unexpected SRT address:\n got %s\nwant %s", cfg.Output[0].Address, want)
	}
	if cfg.Reference != "parent-stream-id" {
		t.Fatalf("expected the egress to reference its parent stream, got %q", cfg.Reference)
	}
	if !strings.Contains(result.ProcessID, ":egress:") {
		t.Fatalf("expected an egress process id, got %q", result.ProcessID)
	}
}

func TestCreateEgressRTMPCarriesStreamKeyOption(t *testing.T) {
	composer, stub := newTestComposer(t, enginestub.Options{}, "2e9a2f46-6a8e-4c35-8c29-08b8ab39f6ab")

	result, err := composer.CreateEgress(context.Background(), EgressParams{
		Type:      "rtmp",
		StreamID:  "parent-stream-id",
		Name:      "YouTube",
		URL:       "rtmp://a.rtmp.youtube.com/live2",
		StreamKey: "abcd-efgh",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := submittedConfig(t, stub, result.ProcessID)
	if cfg.Output[0].Address != "rtmp://a.rtmp.youtube.com/live2" {
		t.Fatalf("unexpected address: %s", cfg.Output[0].Address)
	}
	options := cfg.Output[0].Options
	found := false
	for i, opt := range options {
		if opt == "-rtmp_playpath" && i+1 < len(options) && options[i+1] == "abcd-efgh" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the stream key as an option argument, got %v", options)
	}
}

func TestCreateIngestMetadataFailureRollsBackResource(t *testing.T) {
	const streamID = "b9c2ad1f-0b15-45cc-8e26-43a1ef0061f2"
	composer, stub := newTestComposer(t, enginestub.Options{FailMetadataWrites: 1}, streamID)

	_, err := composer.CreateIngest(context.Background(), IngestParams{Type: "rtmp", Name: "Cam1"})

	var partial *PartialCompositionError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCompositionError, got %v", err)
	}
	if errors.Is(err, engine.ErrAuthentication) {
		t.Fatalf("partial composition must stay distinguishable from auth failure")
	}
	if !partial.RolledBack {
		t.Fatalf("expected the compensating deletion to succeed")
	}
	if stub.HasProcess("restreamer-ui:ingest:" + streamID) {
		t.Fatalf("expected the orphaned process to be rolled back")
	}
}

func TestComposerValidation(t *testing.T) {
	composer, _ := newTestComposer(t, enginestub.Options{}, "ignored")
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
	}{
		{"ingest without name", func() error {
			_, err := composer.CreateIngest(ctx, IngestParams{Type: "rtmp"})
			return err
		}},
		{"ingest with unknown protocol", func() error {
			_, err := composer.CreateIngest(ctx, IngestParams{Type: "webrtc", Name: "Cam1"})
			return err
		}},
		{"egress without stream id", func() error {
			_, err := composer.CreateEgress(ctx, EgressParams{Type: "rtmp", Name: "x", URL: "rtmp://y"})
			return err
		}},
		{"rtmp egress without url", func() error {
			_, err := composer.CreateEgress(ctx, EgressParams{Type: "rtmp", StreamID: "s", Name: "x"})
			return err
		}},
		{"srt egress without port", func() error {
			_, err := composer.CreateEgress(ctx, EgressParams{Type: "srt", StreamID: "s", Name: "x", URL: "example.com"})
			return err
		}},
	}
	for _, tc := range cases {
		if err := tc.run(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}
