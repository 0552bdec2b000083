package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestStaticClient_ValidateProducts(t *testing.T) {
	client := NewStaticClient(DefaultProducts()...)

	products, err := client.ValidateProducts(context.Background(), []string{"2", "404", "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 2 || products[0].ID != "2" || products[1].ID != "1" {
		t.Fatalf("unexpected products: %+v", products)
	}
	if client.Calls() != 1 {
		t.Fatalf("expected one call, got %d", client.Calls())
	}
}

func TestStaticClient_UpsertRemoveAndErr(t *testing.T) {
	client := NewStaticClient()
	client.Upsert(domain.Product{ID: "x", Name: "X", Price: decimal.NewFromInt(3)})

	products, _ := client.ValidateProducts(context.Background(), []string{"x"})
	if len(products) != 1 {
		t.Fatalf("expected upserted product")
	}

	client.Remove("x")
	products, _ = client.ValidateProducts(context.Background(), []string{"x"})
	if len(products) != 0 {
		t.Fatalf("expected product to be removed")
	}

	client.Err = errors.New("down")
	if _, err := client.ValidateProducts(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected configured error")
	}
}
