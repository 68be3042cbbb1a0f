//go:build amd64

package framecapture

// This file documents, rather than implements, the architecture-
// specific seam spec §9 describes: on a real amd64 target running
// natively compiled speculative bodies, a Capturer here would read live
// values directly out of callee-saved registers and the native stack
// frame at the guard-failure trampoline, instead of relying on an
// interpreter-maintained Source. That requires inline assembly (or a
// Go assembly trampoline) tied to the calling convention the compiler
// backend actually emits — both explicitly out of scope (spec.md
// Non-goals: "a specific native ABI"). NewGeneric's portable capture
// from an interpreter-supplied Source is used on every architecture
// this module supports, including amd64, until a real compiler backend
// and matching register-capture trampoline are wired in here.
