// Package recordproc orchestrates the per-file pipeline of spec.md §4.B/§4.E:
// parse, then fan out Game Writer, record-zip upload, and minimap
// persistence concurrently, optionally waiting for completion within a
// bounded deadline before returning.
package recordproc

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lichifeng/mgxmonitor/internal/gamewriter"
	"github.com/lichifeng/mgxmonitor/internal/minimap"
	"github.com/lichifeng/mgxmonitor/internal/objectstore"
	"github.com/lichifeng/mgxmonitor/internal/parser"
)

const ioTaskTimeout = 100 * time.Second

// Options control one invocation of Process (spec.md §6 upload fields).
type Options struct {
	SyncProc  bool // wait for all I/O tasks before returning
	S3Replace bool // overwrite an existing record zip
	Cleanup   bool // remove the source file after successful processing
	PlayedAt  *time.Time
	Source    string
}

type Processor struct {
	Parser       *parser.Adapter
	Writer       *gamewriter.Writer
	ObjStore     *objectstore.Client
	Minimap      *minimap.Saver
	RecordsDir   string // object-store prefix for packed records
	MapDirLocal  string
	ErrorDir     string
	RecorderSite string
	log          *logrus.Entry
}

func New(p *parser.Adapter, w *gamewriter.Writer, obj *objectstore.Client, mm *minimap.Saver,
	recordsDir, errorDir, recorderSite string, log *logrus.Entry) *Processor {
	return &Processor{
		Parser:       p,
		Writer:       w,
		ObjStore:     obj,
		Minimap:      mm,
		RecordsDir:   recordsDir,
		ErrorDir:     errorDir,
		RecorderSite: recorderSite,
		log:          log,
	}
}

// Outcome summarizes one Process invocation for the caller (HTTP handler or
// ingest worker).
type Outcome struct {
	Status       string
	GUID         string
	ParseResult  parser.Result
	TaskErrors   []error
}

// Process runs the full pipeline against a single source file path.
func (p *Processor) Process(ctx context.Context, path string, opts Options) Outcome {
	result := p.Parser.Parse(ctx, path)

	if parser.IsQuarantineStatus(result.Status) {
		p.quarantine(path)
		return Outcome{Status: result.Status, ParseResult: result}
	}

	if result.GUID == "" || result.MD5 == "" || result.FileExt == "" {
		p.quarantine(path)
		return Outcome{Status: "invalid", ParseResult: result}
	}

	type taskResult struct {
		name        string
		err         error
		writeStatus string
		writeGUID   string
	}
	results := make(chan taskResult, 4)

	go func() {
		status, guid, err := p.Writer.Write(toWriterInput(result), opts.PlayedAt, opts.Source)
		results <- taskResult{name: "gamewriter", err: err, writeStatus: status, writeGUID: guid}
	}()

	go func() {
		err := p.uploadRecordZip(ctx, path, result, opts.S3Replace)
		results <- taskResult{name: "objectstore", err: err}
	}()

	go func() {
		var err error
		if result.Map != nil {
			status := p.Minimap.SaveLocal(result.GUID, result.Map.Base64)
			if status == minimap.StatusError {
				err = fmt.Errorf("minimap local save failed")
			}
		}
		results <- taskResult{name: "minimap_local", err: err}
	}()

	go func() {
		var err error
		if result.Map != nil {
			status := p.Minimap.SaveRemote(ctx, result.GUID, result.Map.Base64)
			if status == minimap.StatusError {
				err = fmt.Errorf("minimap remote save failed")
			}
		}
		results <- taskResult{name: "minimap_remote", err: err}
	}()

	// writeStatus/writeGUID default to the parse result and are only ever
	// mutated here, in the goroutine that called Process, from payloads
	// carried on the results channel -- never read from the spawned
	// goroutines directly, so there is nothing to race on even when
	// SyncProc is false and these defaults are never overwritten.
	writeStatus := result.Status
	writeGUID := result.GUID

	var errs []error
	if opts.SyncProc {
		deadline := time.After(ioTaskTimeout)
		for i := 0; i < 4; i++ {
			select {
			case r := <-results:
				if r.name == "gamewriter" && r.writeStatus != "" {
					writeStatus = r.writeStatus
					writeGUID = r.writeGUID
				}
				if r.err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
				}
			case <-deadline:
				errs = append(errs, fmt.Errorf("recordproc: timed out waiting for I/O tasks"))
				i = 4
			}
		}
	}

	if len(errs) > 0 {
		p.quarantine(path)
		if p.log != nil {
			p.log.WithFields(logrus.Fields{"path": path, "errs": errs}).Warn("recordproc: task errors")
		}
	} else if opts.Cleanup {
		os.Remove(path)
	}

	return Outcome{Status: writeStatus, GUID: writeGUID, ParseResult: result, TaskErrors: errs}
}

func toWriterInput(r parser.Result) gamewriter.Input {
	in := gamewriter.Input{
		GUID:     r.GUID,
		MD5:      r.MD5,
		Duration: r.Duration,
		Status:   r.Status,
		Matchup:  r.Matchup,
	}
	if r.Version.Code != "" {
		in.VersionCode = r.Version.Code
	}
	if len(r.Players) > 0 {
		_ = json.Unmarshal(r.Players, &in.Players)
	}
	if len(r.Chat) > 0 {
		_ = json.Unmarshal(r.Chat, &in.Chat)
	}
	return in
}

// uploadRecordZip builds the DEFLATE envelope described in spec.md §6 and
// uploads it under {recordsPrefix}/{md5}.zip unless it already exists and
// replace is false.
func (p *Processor) uploadRecordZip(ctx context.Context, path string, r parser.Result, replace bool) error {
	if p.ObjStore == nil {
		return nil
	}
	key := objectstore.RecordKey(p.RecordsDir, r.MD5)

	if !replace {
		exists, err := p.ObjStore.Exists(ctx, key)
		if err == nil && exists {
			return nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("recordproc: read source: %w", err)
	}

	entryName := fmt.Sprintf("%s_%s_%s%s", r.Version.Code, r.Matchup, r.MD5[:4], r.FileExt)
	comment := buildZipComment(r, p.RecorderSite)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create(entryName)
	if err != nil {
		return err
	}
	if _, err := fw.Write(raw); err != nil {
		return err
	}
	if err := zw.SetComment(comment); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	durationStr := ""
	if r.Duration != nil {
		durationStr = fmt.Sprintf("%d", *r.Duration)
	}
	metadata := map[string]string{
		"guid":    r.GUID,
		"md5":     r.MD5,
		"parser":  p.parserName(),
		"version": r.Version.Code,
		"matchup": r.Matchup,
	}
	if durationStr != "" {
		metadata["duration"] = durationStr
	}

	return p.ObjStore.Put(ctx, key, buf.Bytes(), "application/zip", metadata)
}

func (p *Processor) parserName() string {
	if p.Parser == nil {
		return ""
	}
	return filepath.Base(p.Parser.BinaryPath)
}

func buildZipComment(r parser.Result, site string) string {
	var b strings.Builder
	b.WriteString("Age of Empires II record\n\n")
	fmt.Fprintf(&b, "Version: %s\n", r.Version.Code)
	fmt.Fprintf(&b, "Matchup: %s\n\n", r.Matchup)
	fmt.Fprintf(&b, "GUID: %s\n", r.GUID)
	fmt.Fprintf(&b, "MD5 : %s\n", r.MD5)
	fmt.Fprintf(&b, "(Maybe) Played at: %s\n\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Collected by %s\n", site)
	fmt.Fprintf(&b, "Parsed by %s\n", r.Raw["parser"])
	fmt.Fprintf(&b, "Packed at %s\n", time.Now().Format(time.RFC3339))
	return b.String()
}

// quarantine moves path into ErrorDir, disambiguating name collisions with
// a random 3-letter prefix (spec.md §4.B step 5).
func (p *Processor) quarantine(path string) {
	if p.ErrorDir == "" {
		return
	}
	if err := os.MkdirAll(p.ErrorDir, 0o755); err != nil {
		if p.log != nil {
			p.log.WithError(err).Warn("recordproc: cannot create error dir")
		}
		return
	}
	base := filepath.Base(path)
	dest := filepath.Join(p.ErrorDir, base)
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(p.ErrorDir, randomPrefix()+"_"+base)
	}
	if err := os.Rename(path, dest); err != nil {
		if p.log != nil {
			p.log.WithFields(logrus.Fields{"path": path, "dest": dest, "err": err}).Warn("recordproc: quarantine move failed")
		}
	}
}

const letters = "abcdefghijklmnopqrstuvwxyz"

func randomPrefix() string {
	b := make([]byte, 3)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

