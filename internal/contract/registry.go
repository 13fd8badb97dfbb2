// Package contract implements the Contract Registry (C7): the manifest
// of commands and typed errors that defines SurfWright's deterministic
// public API, and the SHA-256 fingerprint CI gates against.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"surfwright/internal/types"
)

// contractSchemaVersion bumps whenever the shape of Report itself
// changes (not when commands/errors are added — that only changes the
// fingerprint).
const contractSchemaVersion = 1

// Command describes one verb surfaced to callers.
type Command struct {
	ID      string `json:"id"`
	Usage   string `json:"usage"`
	Summary string `json:"summary"`
}

// ErrorDecl describes one typed error code in the public taxonomy.
type ErrorDecl struct {
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// Report is the full `contract` verb payload.
type Report struct {
	Name                  string      `json:"name"`
	Version               string      `json:"version"`
	ContractSchemaVersion int         `json:"contractSchemaVersion"`
	ContractFingerprint   string      `json:"contractFingerprint"`
	Commands              []Command   `json:"commands"`
	Errors                []ErrorDecl `json:"errors"`
	Guarantees            []string    `json:"guarantees,omitempty"`
}

// Registry accumulates the command and error declarations registered on
// it at startup, then aggregates them into a Report.
type Registry struct {
	name       string
	version    string
	commands   []Command
	errors     []ErrorDecl
	guarantees []string
}

// New builds an empty registry for the given product name/version.
func New(name, version string) *Registry {
	return &Registry{name: name, version: version}
}

// RegisterCommand adds one command declaration. Intended to be called
// once per verb at daemon/CLI startup, before the first Build.
func (r *Registry) RegisterCommand(id, usage, summary string) {
	r.commands = append(r.commands, Command{ID: id, Usage: usage, Summary: summary})
}

// RegisterError adds one typed error declaration.
func (r *Registry) RegisterError(code string, retryable bool) {
	r.errors = append(r.errors, ErrorDecl{Code: code, Retryable: retryable})
}

// RegisterGuarantee adds one free-text guarantee string surfaced in the
// report (e.g. "loopback-only transport").
func (r *Registry) RegisterGuarantee(g string) {
	r.guarantees = append(r.guarantees, g)
}

// RegisterBaselineErrors registers every error code in the types package's
// baseline taxonomy, so the contract report never drifts from
// internal/types without an explicit RegisterError call.
func (r *Registry) RegisterBaselineErrors() {
	for _, code := range baselineErrorCodes {
		r.RegisterError(code, types.IsRetryable(code))
	}
}

var baselineErrorCodes = []string{
	types.ErrURLInvalid,
	types.ErrQueryInvalid,
	types.ErrSessionRequired,
	types.ErrSessionExists,
	types.ErrTargetNotFound,
	types.ErrTargetSessionUnknown,
	types.ErrTargetSessionMismatch,
	types.ErrWaitTimeout,
	types.ErrEvalRuntime,
	types.ErrRuntimePoolWarmFailed,
	types.ErrRuntimePoolSessionMismatch,
	types.ErrDaemonQueueTimeout,
	types.ErrDaemonQueueSaturated,
	types.ErrStateLocked,
	types.ErrStateRead,
	types.ErrStateVersion,
	types.ErrDaemonAuthFailed,
	types.ErrDaemonFrameTooLarge,
	types.ErrDaemonUnreachable,
	types.ErrInternal,
}

// Build aggregates the registered commands/errors into a sorted,
// fingerprinted Report. Sorting is by ID/code so the fingerprint is
// independent of registration order.
func (r *Registry) Build() Report {
	commands := append([]Command(nil), r.commands...)
	sort.Slice(commands, func(i, j int) bool { return commands[i].ID < commands[j].ID })

	errs := append([]ErrorDecl(nil), r.errors...)
	sort.Slice(errs, func(i, j int) bool { return errs[i].Code < errs[j].Code })

	return Report{
		Name:                  r.name,
		Version:               r.version,
		ContractSchemaVersion: contractSchemaVersion,
		ContractFingerprint:   fingerprint(commands, errs),
		Commands:              commands,
		Errors:                errs,
		Guarantees:            append([]string(nil), r.guarantees...),
	}
}

// fingerprint computes the SHA-256 hex digest over the canonical
// (already-sorted) ordering of commands and errors. The encoding is a
// plain delimited text form rather than JSON so the fingerprint is
// insensitive to JSON marshaling changes (field order, escaping) that
// carry no semantic meaning.
func fingerprint(commands []Command, errs []ErrorDecl) string {
	var b strings.Builder
	for _, c := range commands {
		b.WriteString("cmd\x00")
		b.WriteString(c.ID)
		b.WriteString("\x00")
		b.WriteString(c.Usage)
		b.WriteString("\x00")
		b.WriteString(c.Summary)
		b.WriteString("\x01")
	}
	for _, e := range errs {
		b.WriteString("err\x00")
		b.WriteString(e.Code)
		b.WriteString("\x00")
		if e.Retryable {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
		b.WriteString("\x01")
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
