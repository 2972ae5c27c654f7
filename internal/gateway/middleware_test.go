package gateway

import (
	"context"
	"testing"

	"broadcast-control-plane/backend/internal/apperrors"
)

func TestChain_OrderAndShortCircuit(t *testing.T) {
	var order []string
	stage := func(name string, fail bool) Interceptor {
		return func(ctx context.Context, req interface{}, info *RequestInfo, next Handler) (interface{}, error) {
			order = append(order, name)
			if fail {
				return nil, apperrors.Blocked()
			}
			return next(ctx, req)
		}
	}

	chain := Chain(stage("a", false), stage("b", true), stage("c", false))
	_, err := chain(context.Background(), nil, &RequestInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		order = append(order, "handler")
		return nil, nil
	})
	if apperrors.KindOf(err) != apperrors.KindBlocked {
		t.Fatalf("err = %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
}

func TestChain_PassesThroughToHandler(t *testing.T) {
	passthrough := func(ctx context.Context, req interface{}, info *RequestInfo, next Handler) (interface{}, error) {
		return next(ctx, req)
	}
	chain := Chain(passthrough, passthrough)
	got, err := chain(context.Background(), "req", &RequestInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "resp", nil
	})
	if err != nil || got != "resp" {
		t.Fatalf("chain = (%v, %v)", got, err)
	}
}

func TestContextKeys(t *testing.T) {
	ctx := WithConnectionID(context.Background(), "c1")
	ctx = WithAdminID(ctx, "a1")

	if id, ok := GetConnectionID(ctx); !ok || id != "c1" {
		t.Errorf("connection id = (%q, %v)", id, ok)
	}
	if id, ok := GetAdminID(ctx); !ok || id != "a1" {
		t.Errorf("admin id = (%q, %v)", id, ok)
	}
	if _, ok := GetAdminID(context.Background()); ok {
		t.Error("admin id set on empty context")
	}
}
