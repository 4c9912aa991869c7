package runner

import (
	"context"
	"testing"
)

type nopHandle struct{}

func (nopHandle) Serve(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFactoryRegistry(t *testing.T) {
	RegisterFactory("echo-test", func(ctx context.Context, cfg map[string]any) (Handle, error) {
		return nopHandle{}, nil
	})

	f, err := ResolveFactory("echo-test")
	if err != nil {
		t.Fatalf("ResolveFactory: %v", err)
	}
	h, err := f(context.Background(), nil)
	if err != nil || h == nil {
		t.Fatalf("factory returned (%v, %v)", h, err)
	}

	if _, err := ResolveFactory("nope"); err == nil {
		t.Error("expected error for unknown factory")
	}

	found := false
	for _, name := range FactoryNames() {
		if name == "echo-test" {
			found = true
		}
	}
	if !found {
		t.Errorf("FactoryNames() = %v, missing echo-test", FactoryNames())
	}
}

func TestRegisterFactoryPanicsOnDuplicate(t *testing.T) {
	RegisterFactory("dup-test", func(ctx context.Context, cfg map[string]any) (Handle, error) {
		return nopHandle{}, nil
	})
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterFactory("dup-test", func(ctx context.Context, cfg map[string]any) (Handle, error) {
		return nopHandle{}, nil
	})
}
