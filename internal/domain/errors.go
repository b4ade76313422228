package domain

import "errors"

// ErrNoServer indicates the NNTP connection is down and a background
// reconnect is in flight. Callers see empty results, not failures.
var ErrNoServer = errors.New("no nntp server available")

// ErrArticleNotFound indicates a 430 response from Usenet
var ErrArticleNotFound = errors.New("article not found")

// ErrCircuitOpen is returned without invoking the operation when a
// dependency's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrReleaseNotFound indicates no release row matched the dedupe key.
var ErrReleaseNotFound = errors.New("release not found")

// ErrSegmentsEmpty indicates a release row exists but carries no segments.
var ErrSegmentsEmpty = errors.New("release has no segments")

// ErrSegmentSchema indicates the stored segment list failed validation.
var ErrSegmentSchema = errors.New("segment schema violation")

// ErrRateLimited indicates the per-key request window is exhausted.
var ErrRateLimited = errors.New("rate limited")
