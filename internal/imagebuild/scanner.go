package imagebuild

import (
	"context"
	"fmt"
	"strings"
)

// Scanner inspects a built image before it is released to customers. A
// returned error is a policy finding and fails the build.
type Scanner interface {
	Scan(ctx context.Context, imageRef, dockerfile string) error
}

// DenylistScanner rejects images built from known-bad base images. Matching
// is by repository prefix so every tag of a denied repository is caught.
type DenylistScanner struct {
	denied []string
}

// NewDenylistScanner creates a scanner from a list of denied repository
// prefixes, e.g. "docker.io/library/alpine:3.2" or "badregistry.example".
func NewDenylistScanner(denied []string) *DenylistScanner {
	normalized := make([]string, 0, len(denied))
	for _, d := range denied {
		if d = strings.TrimSpace(strings.ToLower(d)); d != "" {
			normalized = append(normalized, d)
		}
	}
	return &DenylistScanner{denied: normalized}
}

// Scan implements Scanner.
func (s *DenylistScanner) Scan(ctx context.Context, imageRef, dockerfile string) error {
	for _, base := range BaseImages(dockerfile) {
		lowered := strings.ToLower(base)
		for _, denied := range s.denied {
			if lowered == denied || strings.HasPrefix(lowered, denied+":") || strings.HasPrefix(lowered, denied+"/") {
				return fmt.Errorf("base image %s is denied by policy", base)
			}
		}
	}
	return nil
}

// NopScanner accepts everything. Used when scanning is disabled.
type NopScanner struct{}

// Scan implements Scanner.
func (NopScanner) Scan(ctx context.Context, imageRef, dockerfile string) error { return nil }
