package restreamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"streamingpro/internal/engine"
)

// Protocol names accepted for ingest inputs and egress outputs.
const (
	ProtocolRTMP = "rtmp"
	ProtocolSRT  = "srt"
)

// ErrInvalidInput marks validation failures on user-supplied parameters.
// Handlers map it to a 400 response.
var ErrInvalidInput = errors.New("invalid input")

const (
	// hlsListSize bounds the number of HLS segments kept in the engine's
	// in-memory filesystem per ingest.
	hlsListSize       = 12
	hlsSegmentSeconds = 2

	// ingestOutputID keys the tee output inside an ingest process; the HLS
	// artifact names in memfs derive from the stream id and this output id.
	ingestOutputID = "output_0"
)

// Metadata is the display document stored under the Namespace metadata key on
// every process created by this dashboard.
type Metadata struct {
	Meta   Meta `json:"meta"`
	Hidden bool `json:"hidden,omitempty"`
}

// Meta holds the operator-facing fields of a process.
type Meta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IngestParams is the user intent behind a new ingest input.
type IngestParams struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// EgressParams is the user intent behind a new egress output attached to an
// existing ingest stream.
type EgressParams struct {
	Type        string `json:"type"`
	StreamID    string `json:"streamId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// RTMP egress fields.
	URL       string `json:"url"`
	StreamKey string `json:"streamKey"`

	// SRT egress fields. URL doubles as the host.
	Port        int    `json:"port"`
	Latency     int    `json:"latency"`
	SRTStreamID string `json:"srtStreamId"`
	Passphrase  string `json:"passphrase"`
}

// ComposeResult summarizes the logical process committed to the engine.
type ComposeResult struct {
	ProcessID string               `json:"processId"`
	StreamID  string               `json:"streamId"`
	Config    engine.ProcessConfig `json:"config"`
}

// Composer translates minimal user intent into complete engine process
// definitions and commits each one as a two-phase write: the process resource
// itself, then the display metadata document. Both must succeed for the
// logical process to be live; a metadata failure triggers a compensating
// deletion and surfaces as *PartialCompositionError.
type Composer struct {
	engine *engine.Client
	logger *slog.Logger
	newID  func() string
}

// NewComposer constructs a Composer on top of an authenticated engine client.
func NewComposer(client *engine.Client, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{engine: client, logger: logger, newID: uuid.NewString}
}

// CreateIngest builds and commits a new ingest process. The generated stream
// id serves as both the process id suffix and the reference every dependent
// process will carry.
func (c *Composer) CreateIngest(ctx context.Context, params IngestParams) (ComposeResult, error) {
	if strings.TrimSpace(params.Name) == "" {
		return ComposeResult{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	protocol := strings.ToLower(strings.TrimSpace(params.Type))
	if protocol != ProtocolRTMP && protocol != ProtocolSRT {
		return ComposeResult{}, fmt.Errorf("%w: type must be rtmp or srt", ErrInvalidInput)
	}

	streamID := c.newID()
	cfg := ingestConfig(streamID, protocol)

	if err := c.commit(ctx, cfg, Metadata{Meta: Meta{Name: params.Name, Description: params.Description}}); err != nil {
		return ComposeResult{}, err
	}
	return ComposeResult{ProcessID: cfg.ID, StreamID: streamID, Config: cfg}, nil
}

// CreateEgress builds and commits a new egress process referencing an
// existing ingest stream.
func (c *Composer) CreateEgress(ctx context.Context, params EgressParams) (ComposeResult, error) {
	if strings.TrimSpace(params.StreamID) == "" {
		return ComposeResult{}, fmt.Errorf("%w: streamId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(params.Name) == "" {
		return ComposeResult{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	var (
		address string
		options *OutputOptions
	)
	switch strings.ToLower(strings.TrimSpace(params.Type)) {
	case ProtocolRTMP:
		if strings.TrimSpace(params.URL) == "" {
			return ComposeResult{}, fmt.Errorf("%w: url is required", ErrInvalidInput)
		}
		address = params.URL
		options = rtmpEgressOptions(params.StreamKey)
	case ProtocolSRT:
		if strings.TrimSpace(params.URL) == "" || params.Port <= 0 {
			return ComposeResult{}, fmt.Errorf("%w: url and port are required", ErrInvalidInput)
		}
		address = SRTEgressAddress(params.URL, params.Port, params.Latency, params.SRTStreamID, params.Passphrase)
		options = srtEgressOptions()
	default:
		return ComposeResult{}, fmt.Errorf("%w: type must be rtmp or srt", ErrInvalidInput)
	}

	cfg := egressConfig(c.newID(), params.StreamID, address, options)

	if err := c.commit(ctx, cfg, Metadata{Meta: Meta{Name: params.Name, Description: params.Description}}); err != nil {
		return ComposeResult{}, err
	}
	return ComposeResult{ProcessID: cfg.ID, StreamID: params.StreamID, Config: cfg}, nil
}

// commit performs the two dependent engine calls. A metadata failure after a
// successful resource creation deletes the fresh resource again so no
// unnamed process leaks, and reports the outcome distinctly.
func (c *Composer) commit(ctx context.Context, cfg engine.ProcessConfig, meta Metadata) error {
	if err := c.engine.CreateProcess(ctx, cfg); err != nil {
		return err
	}
	if err := c.engine.SetMetadata(ctx, cfg.ID, Namespace, meta); err != nil {
		rolledBack := true
		if delErr := c.engine.DeleteProcess(ctx, cfg.ID); delErr != nil && !engine.IsNotFound(delErr) {
			rolledBack = false
			c.logger.Error("failed to roll back process after metadata write failure",
				"process_id", cfg.ID, "error", delErr)
		}
		return &PartialCompositionError{ProcessID: cfg.ID, RolledBack: rolledBack, Err: err}
	}
	return nil
}

func ingestConfig(streamID, protocol string) engine.ProcessConfig {
	input := engine.ProcessIO{
		ID:      "input_0",
		Address: fmt.Sprintf("{rtmp,name=%s.stream}", streamID),
		Options: []string{},
	}
	if protocol == ProtocolSRT {
		input.Address = fmt.Sprintf("{srt,name=%s.stream,mode=request}", streamID)
	}

	options := NewOutputOptions().
		Set("-dn").
		Set("-sn").
		Set("-map", "0").
		Set("-codec", "copy").
		Set("-f", "tee")

	return engine.ProcessConfig{
		ID:        IngestID(streamID),
		Type:      "ffmpeg",
		Reference: streamID,
		Input:     []engine.ProcessIO{input},
		Output: []engine.ProcessOutput{{
			ID:      ingestOutputID,
			Address: ingestTeeAddress(streamID),
			Options: options.Args(),
			Cleanup: []engine.CleanupRule{
				{Pattern: fmt.Sprintf("memfs:/%s_%s_**.ts", streamID, ingestOutputID), MaxFiles: hlsListSize},
				{Pattern: fmt.Sprintf("memfs:/%s**", streamID), PurgeOnDelete: true},
			},
		}},
		Options:               []string{"-err_detect", "ignore_err"},
		Reconnect:             true,
		ReconnectDelaySeconds: 15,
		Autostart:             true,
		StaleTimeoutSeconds:   30,
	}
}

// ingestTeeAddress multiplexes a single encode across three simultaneous
// targets: an HLS playlist plus segments in the engine's in-memory
// filesystem, an RTMP re-expose under <streamID>.stream, and an SRT publish
// under the bare stream id.
func ingestTeeAddress(streamID string) string {
	hls := fmt.Sprintf(
		"[f=hls:hls_time=%d:hls_list_size=%d:hls_flags=append_list+delete_segments:hls_segment_filename={memfs}/%s_%s_%%04d.ts]{memfs}/%s_%s.m3u8",
		hlsSegmentSeconds, hlsListSize, streamID, ingestOutputID, streamID, ingestOutputID)
	rtmp := fmt.Sprintf("[f=flv]{rtmp,name=%s.stream}", streamID)
	srt := fmt.Sprintf("[f=mpegts]{srt,name=%s,mode=publish}", streamID)
	return hls + "|" + rtmp + "|" + srt
}

// IngestPlaylistPath is the memfs path of the HLS playlist an ingest process
// writes; recording processes read from it.
func IngestPlaylistPath(streamID string) string {
	return fmt.Sprintf("/%s_%s.m3u8", streamID, ingestOutputID)
}

func egressConfig(shortID, streamID, address string, options *OutputOptions) engine.ProcessConfig {
	return engine.ProcessConfig{
		ID:        EgressID(shortID),
		Type:      "ffmpeg",
		Reference: streamID,
		Input: []engine.ProcessIO{{
			ID:      "input_0",
			Address: fmt.Sprintf("{rtmp,name=%s.stream}", streamID),
			Options: []string{"-re"},
		}},
		Output: []engine.ProcessOutput{{
			ID:      "output_0",
			Address: address,
			Options: options.Args(),
		}},
		Options:               []string{"-err_detect", "ignore_err"},
		Reconnect:             true,
		ReconnectDelaySeconds: 15,
		Autostart:             true,
		StaleTimeoutSeconds:   30,
	}
}

func rtmpEgressOptions(streamKey string) *OutputOptions {
	options := NewOutputOptions().
		Set("-c:v", "copy").
		Set("-c:a", "copy").
		Set("-f", "flv")
	if strings.TrimSpace(streamKey) != "" {
		options.Set("-rtmp_playpath", streamKey)
	}
	return options
}

func srtEgressOptions() *OutputOptions {
	return NewOutputOptions().
		Set("-c:v", "copy").
		Set("-c:a", "copy").
		Set("-f", "mpegts")
}

// SRTEgressAddress renders the caller-mode SRT URL the engine expects. The
// query parameter order is fixed; downstream devices parse it positionally.
func SRTEgressAddress(host string, port, latency int, streamID, passphrase string) string {
	var sb strings.Builder
	sb.WriteString("srt://")
	sb.WriteString(host)
	sb.WriteString(":")
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString("?latency=")
	sb.WriteString(strconv.Itoa(latency))
	sb.WriteString("&transtype=live&mode=caller")
	if streamID != "" {
		sb.WriteString("&streamid=")
		sb.WriteString(url.QueryEscape(streamID))
	}
	if passphrase != "" {
		sb.WriteString("&passphrase=")
		sb.WriteString(url.QueryEscape(passphrase))
	}
	return sb.String()
}
