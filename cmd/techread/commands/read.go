package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spherical/techread/internal/preflight"
	"github.com/spherical/techread/pkg/techread"
)

var (
	readAsks     []string
	readModel    string
	readOutDir   string
	readProgress []string
)

var readCmd = &cobra.Command{
	Use:   "read <drawing>",
	Short: "Submit a drawing and save the results",
	Long: `Submit a drawing (PDF, PNG, JPEG, TIFF or any format the service reads) with one or more asks and save
every result the service streams back into the output directory.

Asks are given as Name or Name:field=value,field=value, for example
  --ask PageThumbnail --ask VariantCAD:is_training=true`,
	Example: `  techread read bracket.pdf --ask PageThumbnail --ask TitleBlock
  techread read bracket.pdf --model bracket.step --ask VariantCAD:is_training=true`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	readCmd.Flags().StringArrayVarP(&readAsks, "ask", "a", nil, "ask to request, Name[:field=value,...] (repeatable, required)")
	readCmd.Flags().StringVarP(&readModel, "model", "m", "", "3D model file to submit with the drawing")
	readCmd.Flags().StringVarP(&readOutDir, "out", "o", ".", "directory for result files")
	readCmd.Flags().StringArrayVar(&readProgress, "progress", nil, "also report PROGRESS messages of this subtype (repeatable)")
	_ = readCmd.MarkFlagRequired("ask")
	rootCmd.AddCommand(readCmd)
}

// result is one saved message, printed in JSON mode.
type result struct {
	Type    string `json:"message_type"`
	Subtype string `json:"message_subtype"`
	File    string `json:"file,omitempty"`
	Bytes   int    `json:"bytes,omitempty"`
}

func runRead(cmd *cobra.Command, args []string) error {
	out := newUI()

	client, ctx, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	cfg := client.Config()

	drawing, err := preflight.ReadFile(args[0], cfg.Preflight.MaxDrawingBytes)
	if err != nil {
		return err
	}
	var model []byte
	if readModel != "" {
		if model, err = preflight.ReadFile(readModel, cfg.Preflight.MaxModelBytes); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(readOutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	spinner := out.NewSpinner("Loading ask catalog...")
	spinner.Start()
	cat, err := client.LoadAskCatalog(ctx)
	spinner.Stop()
	if err != nil {
		return err
	}

	asks := make([]techread.Ask, 0, len(readAsks))
	for _, arg := range readAsks {
		ask, err := parseAsk(cat, arg)
		if err != nil {
			return err
		}
		asks = append(asks, ask)
	}

	out.Section("Reading " + filepath.Base(args[0]))
	out.Info("%d asks, output in %s", len(asks), readOutDir)

	w := &resultWriter{dir: readOutDir, seen: map[string]int{}}
	var hooks []techread.Hook
	for _, ask := range asks {
		hooks = append(hooks, techread.NewHook(ask, w.save))
	}
	for _, subtype := range readProgress {
		hooks = append(hooks, techread.NewProgressHook(subtype, func(_ context.Context, msg *techread.ResponseMessage) error {
			w.record(result{Type: string(msg.MessageType), Subtype: msg.MessageSubtype})
			return nil
		}))
	}

	bar := out.NewProgressBar(int64(len(asks)), "waiting")

	// Close tears down the stream when the command is interrupted.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	eventCh := make(chan techread.Event, 100)
	errCh := make(chan error, 1)
	go func() {
		_, err := client.ReadDrawing(ctx, drawing, hooks, model, eventCh)
		close(eventCh)
		errCh <- err
	}()

	startTime := time.Now()
	delivered := map[string]bool{}
	for event := range eventCh {
		switch event.Type {
		case techread.EventStart:
			bar.Describe("streaming")
		case techread.EventMessage:
			if event.MessageType == techread.MessageTypeAsk && !delivered[event.Subtype] {
				delivered[event.Subtype] = true
				bar.Add(1)
			}
		case techread.EventComplete:
			bar.Finish()
		}
	}

	if err := <-errCh; err != nil {
		return err
	}

	results := w.results()
	if out.JSON() {
		for _, r := range results {
			if err := out.Emit(r); err != nil {
				return err
			}
		}
		return nil
	}

	for _, r := range results {
		if r.File != "" {
			out.Success("%s: %s (%d bytes)", r.Subtype, r.File, r.Bytes)
		} else {
			out.Info("%s %s", r.Type, r.Subtype)
		}
	}
	for _, ask := range asks {
		if !delivered[ask.Type()] {
			out.Warning("%s: no result", ask.Type())
		}
	}
	out.Success("Done in %v", time.Since(startTime).Round(time.Millisecond))
	return nil
}

// parseAsk turns "Name" or "Name:field=value,field=value" into an ask.
// Values are YAML scalars, so true, 3 and 0.5 keep their types.
func parseAsk(cat *techread.Catalog, arg string) (techread.Ask, error) {
	name, fields, _ := strings.Cut(arg, ":")
	name = strings.TrimSpace(name)

	overrides := map[string]any{}
	if strings.TrimSpace(fields) != "" {
		for _, kv := range strings.Split(fields, ",") {
			k, v, ok := strings.Cut(kv, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return techread.Ask{}, fmt.Errorf("ask %q: expected field=value, got %q", name, kv)
			}
			var value any
			if err := yaml.Unmarshal([]byte(v), &value); err != nil {
				return techread.Ask{}, fmt.Errorf("ask %q: field %s: %w", name, k, err)
			}
			overrides[k] = value
		}
	}

	return cat.New(name, overrides)
}

// resultWriter saves hook payloads. Hooks run one at a time, the mutex only
// guards against the final read racing a late callback.
type resultWriter struct {
	dir string

	mu    sync.Mutex
	seen  map[string]int
	saved []result
}

func (w *resultWriter) save(_ context.Context, msg *techread.ResponseMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := fileSafe(msg.MessageSubtype)
	w.seen[name]++
	base := fmt.Sprintf("%s-%d", name, w.seen[name])
	r := result{Type: string(msg.MessageType), Subtype: msg.MessageSubtype}

	switch {
	case len(msg.Payload) > 0:
		r.File = filepath.Join(w.dir, base+extensionFor(msg.Payload))
		r.Bytes = len(msg.Payload)
		if err := os.WriteFile(r.File, msg.Payload, 0o644); err != nil {
			return err
		}
	case msg.PayloadDict != nil:
		data, err := json.MarshalIndent(msg.PayloadDict, "", "  ")
		if err != nil {
			return err
		}
		r.File = filepath.Join(w.dir, base+".json")
		r.Bytes = len(data)
		if err := os.WriteFile(r.File, data, 0o644); err != nil {
			return err
		}
	}

	w.saved = append(w.saved, r)
	return nil
}

func (w *resultWriter) record(r result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved = append(w.saved, r)
}

func (w *resultWriter) results() []result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]result(nil), w.saved...)
}

// fileSafe turns a server-supplied subtype into a single path element.
// Only letters, digits, '.', '-' and '_' are kept.
func fileSafe(subtype string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, subtype)
	name = strings.Trim(name, ".")
	if name == "" {
		return "message"
	}
	return name
}

func extensionFor(payload []byte) string {
	switch preflight.DetectFormat(payload) {
	case preflight.FormatPDF:
		return ".pdf"
	case preflight.FormatPNG:
		return ".png"
	case preflight.FormatJPEG:
		return ".jpg"
	case preflight.FormatTIFF:
		return ".tiff"
	default:
		return ".bin"
	}
}
