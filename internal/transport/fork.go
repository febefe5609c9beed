package transport

import (
	"context"
	"fmt"
)

// ForkKind distinguishes how a child session's starting context was
// produced (spec §4.5 "Fork request").
type ForkKind string

const (
	ForkNative ForkKind = "native"
	ForkSoft   ForkKind = "soft"
)

// ForkOutcome is what the resolver produced: either a new provider session
// id forked natively, or a soft-fork context summary the caller prepends
// to the child's prompt.
type ForkOutcome struct {
	Kind              ForkKind
	ProviderSessionID string // set only for ForkNative
	ContextSummary    string // set only for ForkSoft
}

// NativeForker invokes a tool's provider-level fork CLI (e.g.
// --fork-session) or PTY-level fork to mint a new provider session id
// from a parent's.
type NativeForker interface {
	ForkSession(ctx context.Context, parentProviderSessionID string) (string, error)
}

// SoftForkContext builds a context summary from the parent's persisted
// result and recent output; internal/session.Store.SoftForkContext
// satisfies this signature.
type SoftForkContext func(parentSessionID string) (string, error)

// ResolveFork tries the native fork path when the tool supports it, the
// parent has a provider session id, and the parent's seed isn't stale; any
// failure (unsupported tool, missing provider id, forker error) or a stale
// seed degrades to a soft fork built from the parent's session state (spec
// §4.5, §4.6 "the Tool Selector & Fork Resolver must fall back to soft fork
// in that case").
//
// seedStale is true once the parent's project has moved past the git HEAD
// recorded when the parent was created: the provider's own session replay
// would resume against a working tree that no longer matches, so a fresh
// soft-fork recap is safer than trusting the provider to reconstruct state.
func ResolveFork(ctx context.Context, forker NativeForker, parentProviderSessionID string, seedStale bool, softFork SoftForkContext, parentSessionID string) (ForkOutcome, error) {
	if !seedStale && forker != nil && parentProviderSessionID != "" {
		id, err := forker.ForkSession(ctx, parentProviderSessionID)
		if err == nil && id != "" {
			return ForkOutcome{Kind: ForkNative, ProviderSessionID: id}, nil
		}
	}

	summary, err := softFork(parentSessionID)
	if err != nil {
		return ForkOutcome{}, fmt.Errorf("soft fork fallback failed: %w", err)
	}
	return ForkOutcome{Kind: ForkSoft, ContextSummary: summary}, nil
}
