package fetch

import (
	"testing"

	"github.com/jakopako/tagcheck/catalog"
)

const resolverCatalogYml = `
events:
  - name: page_view
page_types:
  - type: PRODUCT_DETAIL
    url_pattern: "/product/"
  - type: ORDER_COMPLETE
    meta_selector: "meta[name=page-type]"
    meta_content: order-complete
  - type: MAIN
    url_pattern: "^https://shop.example.com/?$"
`

func resolver(t *testing.T) *PageTypeResolver {
	t.Helper()
	c, err := catalog.Parse([]byte(resolverCatalogYml))
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	return NewPageTypeResolver(c)
}

func TestResolveHintWins(t *testing.T) {
	r := resolver(t)
	pt := r.Resolve("CHECKOUT", "PRODUCT_DETAIL", &Artifact{URL: "https://shop.example.com/product/1"})
	if pt != "CHECKOUT" {
		t.Fatalf("expected the task hint to win but got %s", pt)
	}
}

func TestResolveMarkerBeforeRules(t *testing.T) {
	r := resolver(t)
	pt := r.Resolve("", "CART", &Artifact{URL: "https://shop.example.com/product/1"})
	if pt != "CART" {
		t.Fatalf("expected the marker variable to win but got %s", pt)
	}
}

func TestResolveURLPattern(t *testing.T) {
	r := resolver(t)
	pt := r.Resolve("", "", &Artifact{URL: "https://shop.example.com/product/42"})
	if pt != "PRODUCT_DETAIL" {
		t.Fatalf("expected PRODUCT_DETAIL but got %s", pt)
	}
}

func TestResolveFinalURLPreferred(t *testing.T) {
	r := resolver(t)
	pt := r.Resolve("", "", &Artifact{
		URL:      "https://shop.example.com/go?target=42",
		FinalURL: "https://shop.example.com/product/42",
	})
	if pt != "PRODUCT_DETAIL" {
		t.Fatalf("expected PRODUCT_DETAIL from the final url but got %s", pt)
	}
}

func TestResolveMetaTag(t *testing.T) {
	r := resolver(t)
	pt := r.Resolve("", "", &Artifact{
		URL:  "https://shop.example.com/thanks",
		HTML: `<html><head><meta name="page-type" content="order-complete"></head><body></body></html>`,
	})
	if pt != "ORDER_COMPLETE" {
		t.Fatalf("expected ORDER_COMPLETE but got %s", pt)
	}
}

func TestResolveUnknown(t *testing.T) {
	r := resolver(t)
	pt := r.Resolve("", "", &Artifact{URL: "https://other.example.com/somewhere"})
	if pt != PageTypeUnknown {
		t.Fatalf("expected %s but got %s", PageTypeUnknown, pt)
	}
}
