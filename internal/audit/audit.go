// Package audit records every authenticated method call to two
// independently-filtered sinks: syslog (a formatted line, severity-mapped to
// a syslog priority) and storage (an append-only event in the reserved
// per-user ":_audit:" store). Each audit record carries the integrity
// digest and key of whatever resource the call created or modified, so an
// external log reader can cryptographically match a storage write with its
// audit line.
//
// A nil sink just skips that sink rather than failing the call, and an
// audit-write failure is logged, never propagated to the caller.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/syslog"
	"regexp"
	"strings"
	"time"

	"github.com/corestream/datacore/internal/logger"
	"github.com/corestream/datacore/internal/mall"
	"github.com/corestream/datacore/internal/models"
)

// Source identifies the caller for an audit record, mirroring MethodContext's
// own {name, ip} source pair.
type Source struct {
	Name string
	IP   string
}

// Record is one authenticated call's audit payload.
type Record struct {
	Action    string                 // dotted method name, e.g. "events.create"
	Query     map[string]interface{} // the call's params, as logged
	Source    Source
	AccessID  string // the access used to make the call
	IsError   bool
	Message   string // set when IsError
	Key       string // id of the resource created/modified, if any
	Integrity string // that resource's integrity digest, if any
}

const (
	validEventType = "audit-log/pryv-api"
	errorEventType = "audit-log/pryv-api-error"
)

func (r Record) eventType() string {
	if r.IsError {
		return errorEventType
	}
	return validEventType
}

func (r Record) content() map[string]interface{} {
	c := map[string]interface{}{
		"action": r.Action,
		"query":  r.Query,
		"source": map[string]string{"name": r.Source.Name, "ip": r.Source.IP},
	}
	if r.Key != "" {
		c["id"] = r.Key
	}
	if r.IsError && r.Message != "" {
		c["message"] = r.Message
	}
	if r.Key != "" && r.Integrity != "" {
		c["record"] = map[string]string{"integrity": r.Integrity, "key": r.Key}
	}
	return c
}

// Filter decides whether a method name is audited by a given sink. Tokens
// are either an exact dotted method name, the wildcard "all", or a
// "<class>.all" pattern expanding to every method of that class. The
// effective set a sink audits is (include ∪ expansions) \ (exclude ∪
// expansions); membership is exact except for those two expansion forms.
type Filter struct {
	Include []string
	Exclude []string
}

// NewFilter builds a Filter. An empty Include defaults to ["all"], since a
// sink with no include tokens configured at all is assumed to want
// everything rather than nothing, since a caller who configures no include
// tokens almost certainly wants every call audited, not none.
func NewFilter(include, exclude []string) Filter {
	if len(include) == 0 {
		include = []string{"all"}
	}
	return Filter{Include: include, Exclude: exclude}
}

func tokenMatches(token, method string) bool {
	if token == "all" {
		return true
	}
	if token == method {
		return true
	}
	if class, ok := strings.CutSuffix(token, ".all"); ok {
		return strings.HasPrefix(method, class+".")
	}
	return false
}

func anyMatches(tokens []string, method string) bool {
	for _, t := range tokens {
		if tokenMatches(t, method) {
			return true
		}
	}
	return false
}

// Matches reports whether this filter's sink should audit the given method.
func (f Filter) Matches(method string) bool {
	return anyMatches(f.Include, method) && !anyMatches(f.Exclude, method)
}

// StorageSink appends audit records as events in a user's reserved
// ":_audit:" store.
type StorageSink struct {
	mall   *mall.Mall
	filter Filter
}

// NewStorageSink creates a storage sink filtered per filter.
func NewStorageSink(m *mall.Mall, filter Filter) *StorageSink {
	return &StorageSink{mall: m, filter: filter}
}

func auditStreamIDs(rec Record) []string {
	return []string{
		fmt.Sprintf(":_audit:access-%s", rec.AccessID),
		fmt.Sprintf(":_audit:action-%s", rec.Action),
	}
}

// Record writes one audit event, or does nothing if this sink's filter
// excludes the record's action.
func (s *StorageSink) Record(ctx context.Context, userID string, rec Record) error {
	if s == nil || s.mall == nil || !s.filter.Matches(rec.Action) {
		return nil
	}

	event := &models.Event{
		StreamIDs:  auditStreamIDs(rec),
		Type:       rec.eventType(),
		Content:    rec.content(),
		Time:       float64(time.Now().Unix()),
		CreatedBy:  rec.AccessID,
		ModifiedBy: rec.AccessID,
	}
	return s.mall.CreateEvent(ctx, userID, event)
}

// SyslogSink formats and writes one line per audited call, mapped onto a
// syslog priority. Its Writer is an interface so tests can substitute an
// in-memory buffer for the real *syslog.Writer.
type SyslogSink struct {
	writer   Writer
	filter   Filter
	template string
}

// Writer is the minimal surface SyslogSink needs from a syslog connection —
// satisfied by *syslog.Writer's per-level methods via the adapter below.
type Writer interface {
	WriteLevel(level string, line string) error
}

// syslogWriter adapts a real *syslog.Writer to Writer, mapping this
// package's level names onto syslog priorities.
type syslogWriter struct {
	w *syslog.Writer
}

func (s *syslogWriter) WriteLevel(level, line string) error {
	switch level {
	case "emerg":
		return s.w.Emerg(line)
	case "alert":
		return s.w.Alert(line)
	case "critical":
		return s.w.Crit(line)
	case "error":
		return s.w.Err(line)
	case "warning":
		return s.w.Warning(line)
	case "notice":
		return s.w.Notice(line)
	default:
		return s.w.Info(line)
	}
}

// DialSyslog connects to a syslog daemon (local or remote). If network is
// empty, it dials the local syslog socket. An empty template defaults to a
// plain action/userid line.
func DialSyslog(network, raddr, tag, template string, filter Filter) (*SyslogSink, error) {
	w, err := syslog.Dial(network, raddr, syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("dial syslog: %w", err)
	}
	if template == "" {
		template = "user={userid} action={action} source.ip={source.ip}"
	}
	return &SyslogSink{writer: &syslogWriter{w: w}, filter: filter, template: template}, nil
}

// NewSyslogSink wraps an arbitrary Writer (e.g. a test double) as a sink,
// for use outside DialSyslog's real-connection path.
func NewSyslogSink(w Writer, template string, filter Filter) *SyslogSink {
	if template == "" {
		template = "user={userid} action={action} source.ip={source.ip}"
	}
	return &SyslogSink{writer: w, filter: filter, template: template}
}

// level maps an audit record to one of the six syslog severities this
// package recognizes. A successful call is "notice"; an error is "error", except an
// unexpected-error record (a server fault) which is "critical".
func (r Record) level() string {
	if !r.IsError {
		return "notice"
	}
	if strings.HasPrefix(r.Message, "unexpected-error") {
		return "critical"
	}
	return "error"
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// render expands {userid} and dotted-path placeholders like
// {content.message} against this record's fields. An unresolved placeholder
// is left verbatim; a resolved non-scalar value is JSON-encoded.
func render(template, userID string, rec Record) string {
	fields := map[string]interface{}{
		"userid": userID,
		"action": rec.Action,
		"source": map[string]interface{}{"name": rec.Source.Name, "ip": rec.Source.IP},
		"content": rec.content(),
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.Split(match[1:len(match)-1], ".")
		value, ok := lookup(fields, path)
		if !ok {
			return match
		}
		if s, ok := value.(string); ok {
			return s
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return match
		}
		return string(encoded)
	})
}

func lookup(fields map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = fields
	for _, segment := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Record formats and writes one line, or does nothing if this sink's filter
// excludes the record's action.
func (s *SyslogSink) Record(userID string, rec Record) error {
	if s == nil || s.writer == nil || !s.filter.Matches(rec.Action) {
		return nil
	}
	line := render(s.template, userID, rec)
	return s.writer.WriteLevel(rec.level(), line)
}

// Audit is the façade both sinks hang off of. A nil sink is skipped, so
// deployments can run storage-only, syslog-only, both, or neither.
type Audit struct {
	storage *StorageSink
	syslog  *SyslogSink
}

// New combines a storage and/or syslog sink. Either may be nil.
func New(storage *StorageSink, syslogSink *SyslogSink) *Audit {
	return &Audit{storage: storage, syslog: syslogSink}
}

// Record writes rec to every configured sink that accepts it. A sink write
// failure is logged and does not fail the call it is auditing.
func (a *Audit) Record(ctx context.Context, userID string, rec Record) {
	if a == nil {
		return
	}
	if err := a.storage.Record(ctx, userID, rec); err != nil {
		logger.Audit().Warn().Err(err).Str("action", rec.Action).Msg("failed to write storage audit record")
	}
	if err := a.syslog.Record(userID, rec); err != nil {
		logger.Audit().Warn().Err(err).Str("action", rec.Action).Msg("failed to write syslog audit record")
	}
}
