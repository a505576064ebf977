package services_test

import (
	"context"
	"testing"

	"storybook/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithProjectID(ctx, "ab12cd34")
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithPhase(ctx, "generating")
	ctx = services.WithPageKey(ctx, "page_2")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ProjectIDFromContext(ctx); !ok || id != "ab12cd34" {
		t.Fatalf("unexpected project id: %v %v", id, ok)
	}
	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if phase, ok := services.PhaseFromContext(ctx); !ok || phase != "generating" {
		t.Fatalf("unexpected phase: %v %v", phase, ok)
	}
	if key, ok := services.PageKeyFromContext(ctx); !ok || key != "page_2" {
		t.Fatalf("unexpected page key: %v %v", key, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPhase(ctx, "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.PhaseFromContext(ctx); ok {
		t.Fatal("expected no phase value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
}
