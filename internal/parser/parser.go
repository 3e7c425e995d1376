// Package parser shells out to the configured record-parsing binary and
// decodes its stdout as JSON, following the subprocess-management shape of
// the teacher's ffmpeg pipeline (services/ingest/internal/pipeline).
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// Status values a parser result may carry (spec.md §4.A).
const (
	StatusPerfect = "perfect"
	StatusGood    = "good"
	StatusValid   = "valid"
	StatusInvalid = "invalid"
	StatusError   = "error"
)

// Result is the decoded parser output. Only the fields downstream
// components explicitly read are typed; everything else round-trips
// through Raw for callers that need it (map/chat payloads, etc).
type Result struct {
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	GUID     string          `json:"guid,omitempty"`
	MD5      string          `json:"md5,omitempty"`
	FileExt  string          `json:"fileext,omitempty"`
	Duration *int            `json:"duration,omitempty"`
	Players  json.RawMessage `json:"players,omitempty"`
	Map      *MapPayload     `json:"map,omitempty"`
	Chat     json.RawMessage `json:"chat,omitempty"`
	Version  VersionInfo     `json:"version,omitempty"`
	Matchup  string          `json:"matchup,omitempty"`

	Raw map[string]any `json:"-"`
}

type MapPayload struct {
	Base64 string `json:"base64,omitempty"`
}

type VersionInfo struct {
	Code string `json:"code,omitempty"`
}

// Adapter invokes an external parser binary per spec.md §4.A.
type Adapter struct {
	BinaryPath string
	log        *logrus.Entry
}

func NewAdapter(binaryPath string, log *logrus.Entry) *Adapter {
	return &Adapter{BinaryPath: binaryPath, log: log}
}

// Parse runs the parser binary against path with opts appended as extra
// arguments and decodes its stdout. It never returns an error itself:
// any failure (missing binary, non-JSON stdout) is reported as a
// Result{Status: StatusError} per the contract, so callers always get a
// result object to act on.
func (a *Adapter) Parse(ctx context.Context, path string, opts ...string) Result {
	args := append([]string{path}, opts...)
	cmd := exec.CommandContext(ctx, a.BinaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if a.log != nil {
			a.log.WithFields(logrus.Fields{
				"path":   path,
				"err":    err,
				"stderr": stderr.String(),
			}).Warn("parser: binary invocation failed")
		}
		return Result{Status: StatusError, Message: "parsing failed"}
	}

	var raw map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		if a.log != nil {
			a.log.WithFields(logrus.Fields{"path": path, "err": err}).Warn("parser: stdout not JSON")
		}
		return Result{Status: StatusError, Message: "parsing failed"}
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Result{Status: StatusError, Message: "parsing failed"}
	}
	res.Raw = raw
	if res.Status == "" {
		res.Status = StatusError
		res.Message = "parsing failed"
	}
	return res
}

// IsQuarantineStatus reports whether the parse result requires the
// source file to be moved to the error directory (spec.md §4.A/§4.B).
func IsQuarantineStatus(status string) bool {
	return status == StatusInvalid || status == StatusError
}

func (r Result) String() string {
	return fmt.Sprintf("parser.Result{status=%s guid=%s md5=%s}", r.Status, r.GUID, r.MD5)
}
