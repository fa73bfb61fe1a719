package shopify

import "github.com/custodia-labs/bisync/internal/core/domain"

// resource describes how an entity maps onto the Admin REST API.
type resource struct {
	// path is the collection path, e.g. "products".
	path string
	// plural and singular are the JSON envelope keys.
	plural   string
	singular string
	// archivable resources have a status field with an archived value.
	archivable bool
	// schema lists the top-level fields of a record.
	schema []string
}

var resources = map[domain.EntityType]resource{
	domain.EntityProduct: {
		path: "products", plural: "products", singular: "product",
		archivable: true,
		schema: []string{
			"id", "title", "body_html", "vendor", "product_type", "handle", "status", "tags",
			"variants", "options", "images", "created_at", "updated_at", "published_at",
		},
	},
	domain.EntityVariant: {
		path: "variants", plural: "variants", singular: "variant",
		schema: []string{
			"id", "product_id", "title", "price", "compare_at_price", "sku", "barcode",
			"inventory_quantity", "weight", "weight_unit", "option1", "option2", "option3",
			"created_at", "updated_at",
		},
	},
	domain.EntityOrder: {
		path: "orders", plural: "orders", singular: "order",
		schema: []string{
			"id", "name", "email", "phone", "created_at", "updated_at", "financial_status",
			"fulfillment_status", "total_price", "subtotal_price", "currency", "customer",
			"line_items", "shipping_address", "billing_address", "note", "tags",
		},
	},
	domain.EntityCustomer: {
		path: "customers", plural: "customers", singular: "customer",
		schema: []string{
			"id", "email", "first_name", "last_name", "phone", "tags", "note", "state",
			"addresses", "default_address", "created_at", "updated_at",
		},
	},
	domain.EntityCollection: {
		path: "custom_collections", plural: "custom_collections", singular: "custom_collection",
		schema: []string{
			"id", "title", "handle", "body_html", "published_at", "sort_order", "updated_at",
		},
	},
}

func lookupResource(entity domain.EntityType) (resource, error) {
	r, ok := resources[entity]
	if !ok {
		return resource{}, domain.ErrUnsupportedType
	}
	return r, nil
}
